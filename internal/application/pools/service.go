// Package pools owns the pool lifecycle, share allocation, ownership recalculation and
// the cancellation workflow. Every mutation of one pool runs under that pool's row lock.
package pools

import (
	"context"
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/cache"
	"coinvest-backend/internal/infrastructure/ledger"

	"github.com/google/uuid"
)

type Service struct {
	Ledger  *ledger.Store
	Gateway domain.PaymentGateway
	Cache   *cache.PoolCache

	// Now is the clock; nil means time.Now.
	Now               func() time.Time
	Currency          string
	ReservationTTL    time.Duration
	RefundConcurrency int
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) reservationTTL() time.Duration {
	if s.ReservationTTL > 0 {
		return s.ReservationTTL
	}
	return 30 * time.Minute
}

func (s *Service) refundConcurrency() int {
	if s.RefundConcurrency > 0 {
		return s.RefundConcurrency
	}
	return 4
}

func (s *Service) invalidate(ctx context.Context, poolID uuid.UUID) {
	s.Cache.Invalidate(ctx, poolID)
}

// lockCharge locks the charge's pool and reloads the charge under that lock.
func lockCharge(tx *ledger.Tx, chargeID, poolID uuid.UUID) (*domain.Pool, *domain.Charge, error) {
	pool, err := tx.GetPoolForUpdate(poolID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := tx.GetCharge(chargeID)
	if err != nil {
		return nil, nil, err
	}
	return pool, ch, nil
}
