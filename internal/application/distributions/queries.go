package distributions

import (
	"context"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
)

// ListDistributions returns distributions the actor may see: everything in pools they
// manage, otherwise only their own.
func (s *Service) ListDistributions(ctx context.Context, actor domain.Actor, q ListQuery) ([]domain.Distribution, error) {
	r := s.Ledger.Read(ctx)
	f := ledger.DistributionFilter{PoolID: q.PoolID, BatchID: q.BatchID, Status: q.Status}

	seeAll := actor.IsAdmin()
	if poolID, ok := q.PoolID.Get(); ok && !seeAll {
		pool, err := r.GetPool(poolID)
		if err != nil {
			return nil, err
		}
		if !pool.VisibleTo(actor) {
			return nil, domain.ErrPoolNotFound
		}
		seeAll = pool.ManagedBy(actor)
	}
	if !seeAll {
		f.UserID = optional.Some(actor.UserID)
	}
	return r.ListDistributions(f)
}

// GetDistribution returns one distribution to its investor or the pool's manager.
func (s *Service) GetDistribution(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Distribution, error) {
	r := s.Ledger.Read(ctx)
	d, err := r.GetDistribution(id)
	if err != nil {
		return nil, err
	}
	if d.UserID == actor.UserID {
		return d, nil
	}
	pool, err := r.GetPool(d.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.ManagedBy(actor) {
		return nil, domain.ErrDistributionNotFound
	}
	return d, nil
}
