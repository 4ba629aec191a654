package pools

import (
	"context"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Recalculate recomputes every confirmed position's ownership percentage in one transaction.
func (s *Service) Recalculate(ctx context.Context, poolID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		out, err = recalculateTx(ctx, tx, pool)
		return err
	})
	return out, err
}

// recalculateTx sets ownershipPercent = amountInvested / raisedAmount * 100 for every
// confirmed position. The caller holds the pool lock and has already written the
// positions whose amounts changed.
func recalculateTx(ctx context.Context, tx *ledger.Tx, pool *domain.Pool) ([]domain.Position, error) {
	positions, err := tx.ListConfirmedPositions(pool.PoolID)
	if err != nil {
		return nil, err
	}
	sum := decimal.Zero
	for i := range positions {
		sum = sum.Add(positions[i].AmountInvested)
	}
	if !sum.Equal(pool.RaisedAmount) {
		log.Ctx(ctx).Error().
			Str("pool_id", pool.PoolID.String()).
			Str("raised", pool.RaisedAmount.String()).
			Str("confirmed_sum", sum.String()).
			Msg("raised amount out of step with confirmed positions")
	}
	for i := range positions {
		pct := domain.Percent(positions[i].AmountInvested, pool.RaisedAmount)
		if positions[i].OwnershipPercent.Equal(pct) {
			continue
		}
		positions[i].OwnershipPercent = pct
		if err := tx.UpsertPosition(&positions[i]); err != nil {
			return nil, err
		}
	}
	return positions, nil
}
