package distributions

import (
	"context"

	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CreateBatch splits gross, fees and taxes across the pool's confirmed positions and
// records one pending distribution per position.
//
// Net amounts and deductions are allocated to the cent by invested capital, and each row's
// gross is its net plus its deductions, so every column of the batch sums exactly to the
// totals given. Positions are read under the pool lock, which makes the batch a consistent
// snapshot of ownership.
func (s *Service) CreateBatch(ctx context.Context, actor domain.Actor, cmd CreateBatchCommand) (*Batch, error) {
	if !constants.AllowedRole(constants.IssueDistributions, actor.Role) {
		return nil, domain.Forbidden("Only pool managers can issue distributions")
	}
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}
	if !cmd.Type.Valid() {
		return nil, domain.InvalidOperation("Unknown distribution type %q", cmd.Type)
	}
	gross := domain.RoundMoney(cmd.GrossAmount)
	fees := domain.RoundMoney(cmd.Fees)
	taxes := domain.RoundMoney(cmd.Taxes)
	net := gross.Sub(fees).Sub(taxes)
	if net.IsNegative() {
		return nil, domain.InvalidOperation("Fees and taxes exceed the gross amount")
	}

	batch := &Batch{BatchID: uuid.New(), PoolID: cmd.PoolID, GrossAmount: gross, Fees: fees, Taxes: taxes, NetAmount: net}
	var advanced bool
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, err := tx.GetPoolForUpdate(cmd.PoolID)
		if err != nil {
			return err
		}
		if !pool.ManagedBy(actor) {
			return domain.ErrNotPoolManager
		}
		switch pool.Status {
		case domain.PoolDraft, domain.PoolCancelled, domain.PoolCompleted:
			return domain.InvalidOperation("Cannot distribute from a %s pool", pool.Status)
		}
		positions, err := tx.ListConfirmedPositions(pool.PoolID)
		if err != nil {
			return err
		}
		if len(positions) == 0 {
			return domain.InvalidOperation("Pool has no confirmed investors")
		}

		weights := make([]decimal.Decimal, len(positions))
		for i := range positions {
			weights[i] = positions[i].AmountInvested
		}
		nets := domain.Allocate(net, weights)
		feeParts := domain.Allocate(fees, weights)
		taxParts := domain.Allocate(taxes, weights)

		rows := make([]domain.Distribution, len(positions))
		for i, pos := range positions {
			rows[i] = domain.Distribution{
				BatchID:          batch.BatchID,
				PoolID:           pool.PoolID,
				PositionID:       pos.PositionID,
				UserID:           pos.UserID,
				Type:             cmd.Type,
				Period:           cmd.Period,
				OwnershipPercent: pos.OwnershipPercent,
				GrossAmount:      nets[i].Add(feeParts[i]).Add(taxParts[i]),
				Fees:             feeParts[i],
				Taxes:            taxParts[i],
				NetAmount:        nets[i],
				Status:           domain.DistributionPending,
				Notes:            cmd.Notes,
			}
		}
		if err := tx.CreateDistributionBatch(rows); err != nil {
			return err
		}
		batch.Distributions = rows

		if pool.Status == domain.PoolFunded {
			pool.Status = domain.PoolDistributing
			advanced = true
			return tx.SavePool(pool)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx).With().Str("pool_id", cmd.PoolID.String()).Str("batch_id", batch.BatchID.String()).Logger()
	if advanced {
		s.Cache.Invalidate(ctx, cmd.PoolID)
		metrics.PoolTransitions.WithLabelValues(string(domain.PoolDistributing)).Inc()
		logger.Info().Msg("first distribution issued; pool distributing")
	}
	metrics.DistributionsCreated.WithLabelValues(string(cmd.Type)).Add(float64(len(batch.Distributions)))
	logger.Info().
		Int("rows", len(batch.Distributions)).
		Str("gross", gross.StringFixed(2)).
		Str("net", net.StringFixed(2)).
		Msg("distribution batch created")
	return batch, nil
}
