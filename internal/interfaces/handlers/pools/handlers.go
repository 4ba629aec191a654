package pools

import (
	"strconv"

	poolsvc "coinvest-backend/internal/application/pools"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/middleware"
	"coinvest-backend/internal/pkg/optional"
	"coinvest-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const maxPageSize = 100

type Handlers struct {
	Service *poolsvc.Service
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

// POST /api/v1/pools
func (h *Handlers) CreatePool(c *fiber.Ctx) error {
	var cmd poolsvc.CreatePoolCommand
	if err := c.BodyParser(&cmd); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	pool, err := h.Service.CreatePool(c.UserContext(), actor(c), cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Pool created successfully", pool, nil)
}

// GET /api/v1/pools?status=&manager_id=&limit=&offset=
func (h *Handlers) ListPools(c *fiber.Ctx) error {
	q := poolsvc.ListPoolsQuery{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if q.Limit <= 0 || q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if s := c.Query("status"); s != "" {
		q.Status = optional.Some(domain.PoolStatus(s))
	}
	if s := c.Query("manager_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return response.BadRequest(c, "Invalid manager_id format")
		}
		q.ManagerID = optional.Some(id)
	}
	pools, total, err := h.Service.ListPools(c.UserContext(), actor(c), q)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pools fetched successfully", pools, response.Page{Total: total, Limit: q.Limit, Offset: q.Offset})
}

// GET /api/v1/pools/:pool_id
func (h *Handlers) GetPool(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	pool, err := h.Service.GetPool(c.UserContext(), actor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pool fetched successfully", pool, nil)
}

// GET /api/v1/pools/slug/:slug
func (h *Handlers) GetPoolBySlug(c *fiber.Ctx) error {
	pool, err := h.Service.GetPoolBySlug(c.UserContext(), actor(c), c.Params("slug"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pool fetched successfully", pool, nil)
}

// PATCH /api/v1/pools/:pool_id
func (h *Handlers) UpdatePool(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var cmd poolsvc.UpdatePoolCommand
	if err := c.BodyParser(&cmd); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	pool, err := h.Service.UpdatePool(c.UserContext(), actor(c), id, cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pool updated successfully", pool, nil)
}

// POST /api/v1/pools/:pool_id/status { status }
func (h *Handlers) Transition(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var body struct {
		Status domain.PoolStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return response.BadRequest(c, "Missing required field: status")
	}
	pool, err := h.Service.Transition(c.UserContext(), actor(c), id, body.Status)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pool status updated to "+string(pool.Status), pool, nil)
}

// POST /api/v1/pools/:pool_id/recalculate
func (h *Handlers) Recalculate(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	a := actor(c)
	pool, err := h.Service.GetPool(c.UserContext(), a, id)
	if err != nil {
		return response.FromError(c, err)
	}
	if !pool.ManagedBy(a) {
		return response.FromError(c, domain.ErrNotPoolManager)
	}
	positions, err := h.Service.Recalculate(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Ownership recalculated", positions, nil)
}

// GET /api/v1/pools/:pool_id/positions
func (h *Handlers) ListPositions(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	positions, err := h.Service.ListPositions(c.UserContext(), actor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Positions fetched successfully", positions, nil)
}

// GET /api/v1/positions/me
func (h *Handlers) ListMyPositions(c *fiber.Ctx) error {
	positions, err := h.Service.ListMyPositions(c.UserContext(), actor(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Positions fetched successfully", positions, nil)
}

// POST /api/v1/pools/:pool_id/purchase { shares, payment_method? }
func (h *Handlers) PurchaseShares(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var cmd poolsvc.PurchaseCommand
	if err := c.BodyParser(&cmd); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	cmd.PoolID = id
	res, err := h.Service.PurchaseShares(c.UserContext(), actor(c), cmd)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Shares reserved, awaiting payment", res, nil)
}

// POST /api/v1/pools/:pool_id/agreement
func (h *Handlers) SignAgreement(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	pos, err := h.Service.SignAgreement(c.UserContext(), actor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Agreement signed", pos, nil)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// POST /api/v1/positions/:position_id/cancel { reason? }
func (h *Handlers) CancelPosition(c *fiber.Ctx) error {
	id, err := uuidParam(c, "position_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var body cancelBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}
	out, err := h.Service.CancelPosition(c.UserContext(), actor(c), id, body.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Position "+out.Outcome, out, nil)
}

// POST /api/v1/pools/:pool_id/cancel { reason? }
// Partial failures still answer 200; the per-position outcomes say what to retry.
func (h *Handlers) CancelPool(c *fiber.Ctx) error {
	id, err := uuidParam(c, "pool_id")
	if err != nil {
		return response.FromError(c, err)
	}
	var body cancelBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}
	res, err := h.Service.CancelPool(c.UserContext(), actor(c), id, body.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Pool cancelled"
	if res.Failed > 0 {
		msg = "Pool cancelled; " + strconv.Itoa(res.Failed) + " refund(s) failed"
	}
	return response.Success(c, msg, res, nil)
}
