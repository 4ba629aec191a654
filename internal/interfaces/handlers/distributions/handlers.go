package distributions

import (
	distsvc "coinvest-backend/internal/application/distributions"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/middleware"
	"coinvest-backend/internal/pkg/optional"
	"coinvest-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *distsvc.Service
}

func actor(c *fiber.Ctx) domain.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name+" format")
	}
	return id, nil
}

func uuidQuery(c *fiber.Ctx, name string) (optional.Option[uuid.UUID], error) {
	s := c.Query(name)
	if s == "" {
		return optional.None[uuid.UUID](), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return optional.None[uuid.UUID](), fiber.NewError(fiber.StatusBadRequest, "Invalid "+name+" format")
	}
	return optional.Some(id), nil
}

// POST /api/v1/pools/:pool_id/distributions
func (h *Handlers) CreateBatch(c *fiber.Ctx) error {
	poolID, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var cmd distsvc.CreateBatchCommand
	if err := c.BodyParser(&cmd); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	cmd.PoolID = poolID
	batch, err := h.Service.CreateBatch(c.UserContext(), actor(c), cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Distributions created successfully", batch, nil)
}

// GET /api/v1/distributions?pool_id=&batch_id=&status=
func (h *Handlers) ListDistributions(c *fiber.Ctx) error {
	var q distsvc.ListQuery
	var err error
	if q.PoolID, err = uuidQuery(c, "pool_id"); err != nil {
		return response.FromError(c, err)
	}
	if q.BatchID, err = uuidQuery(c, "batch_id"); err != nil {
		return response.FromError(c, err)
	}
	if s := c.Query("status"); s != "" {
		q.Status = optional.Some(domain.DistributionStatus(s))
	}
	rows, err := h.Service.ListDistributions(c.UserContext(), actor(c), q)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distributions fetched successfully", rows, nil)
}

// GET /api/v1/distributions/:distribution_id
func (h *Handlers) GetDistribution(c *fiber.Ctx) error {
	id, err := uuidParam(c, "distribution_id")
	if err != nil {
		return response.FromError(c, err)
	}
	d, err := h.Service.GetDistribution(c.UserContext(), actor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distribution fetched successfully", d, nil)
}

func payoutCommand(c *fiber.Ctx) (distsvc.PayoutCommand, error) {
	var cmd distsvc.PayoutCommand
	if len(c.Body()) == 0 {
		return cmd, nil
	}
	err := c.BodyParser(&cmd)
	return cmd, err
}

// POST /api/v1/distributions/:distribution_id/payout
func (h *Handlers) Payout(c *fiber.Ctx) error {
	id, err := uuidParam(c, "distribution_id")
	if err != nil {
		return response.FromError(c, err)
	}
	cmd, err := payoutCommand(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	d, err := h.Service.Payout(c.UserContext(), actor(c), id, cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distribution paid", d, nil)
}

// POST /api/v1/distribution-batches/:batch_id/payout
func (h *Handlers) PayoutBatch(c *fiber.Ctx) error {
	id, err := uuidParam(c, "batch_id")
	if err != nil {
		return response.FromError(c, err)
	}
	cmd, err := payoutCommand(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	res, err := h.Service.PayoutBatch(c.UserContext(), actor(c), id, cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distribution batch processed", res, nil)
}
