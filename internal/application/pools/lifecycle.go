package pools

import (
	"context"
	"errors"
	"fmt"

	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/optional"
	"coinvest-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func canManagePools(actor domain.Actor) bool {
	return constants.AllowedRole(constants.ManagePools, actor.Role)
}

func validateTerms(min, max, fee decimal.Decimal) error {
	switch {
	case min.IsNegative():
		return domain.InvalidOperation("min_investment must not be negative")
	case max.IsNegative():
		return domain.InvalidOperation("max_investment must not be negative")
	case fee.IsNegative():
		return domain.InvalidOperation("management_fee_percent must not be negative")
	}
	if max.IsPositive() && max.LessThan(min) {
		return domain.InvalidOperation("max_investment must not be less than min_investment")
	}
	if fee.GreaterThan(hundred) {
		return domain.InvalidOperation("management_fee_percent must be at most 100")
	}
	return nil
}

// CreatePool creates a draft pool managed by the actor.
func (s *Service) CreatePool(ctx context.Context, actor domain.Actor, cmd CreatePoolCommand) (*domain.Pool, error) {
	if !canManagePools(actor) {
		return nil, domain.Forbidden("Only pool managers can create pools")
	}
	if cmd.Slug == "" {
		cmd.Slug = validation.Slugify(cmd.Name)
	}
	if err := validation.Struct(cmd); err != nil {
		return nil, err
	}
	if !validation.IsValidSlug(cmd.Slug) {
		return nil, domain.InvalidOperation("A valid slug could not be derived from the name")
	}
	if err := validateTerms(cmd.MinInvestment, cmd.MaxInvestment, cmd.ManagementFeePercent); err != nil {
		return nil, err
	}

	pool := &domain.Pool{
		Name:                 cmd.Name,
		Slug:                 cmd.Slug,
		TargetAmount:         domain.RoundMoney(cmd.TargetAmount),
		RaisedAmount:         decimal.Zero,
		MinInvestment:        domain.RoundMoney(cmd.MinInvestment),
		MaxInvestment:        domain.RoundMoney(cmd.MaxInvestment),
		SharePrice:           domain.RoundMoney(cmd.SharePrice),
		TotalShares:          cmd.TotalShares,
		AvailableShares:      cmd.TotalShares,
		ExpectedReturn:       cmd.ExpectedReturn,
		ManagementFeePercent: cmd.ManagementFeePercent,
		Status:               domain.PoolDraft,
		ManagerID:            actor.UserID,
		FundingDeadline:      cmd.FundingDeadline,
		StartDate:            cmd.StartDate,
	}
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		taken, err := tx.SlugTaken(pool.Slug)
		if err != nil {
			return err
		}
		if taken {
			return domain.InvalidOperation("Slug %q is already in use", pool.Slug)
		}
		return tx.CreatePool(pool)
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("pool_id", pool.PoolID.String()).Str("slug", pool.Slug).Msg("pool created")
	return pool, nil
}

// UpdatePool applies the set fields of cmd. Financial terms are rejected once any
// position is confirmed or any reservation is open.
func (s *Service) UpdatePool(ctx context.Context, actor domain.Actor, poolID uuid.UUID, cmd UpdatePoolCommand) (*domain.Pool, error) {
	var out *domain.Pool
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		if !pool.ManagedBy(actor) {
			return domain.ErrNotPoolManager
		}
		if pool.Status.Terminal() {
			return domain.InvalidOperation("Pool is %s and can no longer be edited", pool.Status)
		}

		upd := ledger.PoolUpdate{
			Name:                 cmd.Name,
			MinInvestment:        cmd.MinInvestment,
			MaxInvestment:        cmd.MaxInvestment,
			ExpectedReturn:       cmd.ExpectedReturn,
			ManagementFeePercent: cmd.ManagementFeePercent,
			FundingDeadline:      cmd.FundingDeadline,
			StartDate:            cmd.StartDate,
		}
		if name, ok := cmd.Name.Get(); ok && name == "" {
			return domain.InvalidOperation("name must not be empty")
		}
		if err := validateTerms(
			cmd.MinInvestment.OrElse(pool.MinInvestment),
			cmd.MaxInvestment.OrElse(pool.MaxInvestment),
			cmd.ManagementFeePercent.OrElse(pool.ManagementFeePercent),
		); err != nil {
			return err
		}

		if cmd.touchesFinancialTerms() {
			committed, err := hasCommittedCapital(tx, pool)
			if err != nil {
				return err
			}
			if committed {
				return domain.InvalidOperation("Financial terms are locked once investors have committed capital")
			}
			if v, ok := cmd.TargetAmount.Get(); ok {
				if !v.IsPositive() {
					return domain.InvalidOperation("target_amount must be greater than 0")
				}
				upd.TargetAmount = optional.Some(domain.RoundMoney(v))
			}
			if v, ok := cmd.SharePrice.Get(); ok {
				if !v.IsPositive() {
					return domain.InvalidOperation("share_price must be greater than 0")
				}
				upd.SharePrice = optional.Some(domain.RoundMoney(v))
			}
			if v, ok := cmd.TotalShares.Get(); ok {
				if v <= 0 {
					return domain.InvalidOperation("total_shares must be greater than 0")
				}
				// No capital is committed, so every share is available.
				upd.TotalShares = optional.Some(v)
				upd.AvailableShares = optional.Some(v)
			}
		}

		out, err = tx.UpdatePool(poolID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, poolID)
	return out, nil
}

func hasCommittedCapital(tx *ledger.Tx, pool *domain.Pool) (bool, error) {
	if pool.AvailableShares != pool.TotalShares || pool.RaisedAmount.IsPositive() {
		return true, nil
	}
	confirmed, err := tx.ListConfirmedPositions(pool.PoolID)
	if err != nil {
		return false, err
	}
	return len(confirmed) > 0, nil
}

// Transition moves the pool along its lifecycle. Cancellation goes through CancelPool.
func (s *Service) Transition(ctx context.Context, actor domain.Actor, poolID uuid.UUID, to domain.PoolStatus) (*domain.Pool, error) {
	if !to.Valid() {
		return nil, domain.InvalidOperation("Unknown pool status %q", to)
	}
	if to == domain.PoolCancelled {
		return nil, domain.InvalidOperation("Use pool cancellation to cancel a pool")
	}
	var out *domain.Pool
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		if !pool.ManagedBy(actor) {
			return domain.ErrNotPoolManager
		}
		if err := checkTransition(tx, pool, to); err != nil {
			return err
		}
		pool.Status = to
		if err := tx.SavePool(pool); err != nil {
			return err
		}
		out = pool
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.PoolTransitions.WithLabelValues(string(to)).Inc()
	s.invalidate(ctx, poolID)
	log.Ctx(ctx).Info().Str("pool_id", poolID.String()).Str("status", string(to)).Msg("pool transitioned")
	return out, nil
}

func checkTransition(tx *ledger.Tx, pool *domain.Pool, to domain.PoolStatus) error {
	if pool.CancellationRequestedAt != nil {
		return domain.InvalidOperation("Pool cancellation is in progress")
	}
	if !domain.CanTransition(pool.Status, to) {
		return domain.InvalidOperation("Cannot move pool from %s to %s", pool.Status, to)
	}
	if to == domain.PoolFunded {
		if pool.AvailableShares != 0 {
			return domain.InvalidOperation("Pool still has %d shares available", pool.AvailableShares)
		}
		holding, err := tx.CountHoldingCharges(pool.PoolID)
		if err != nil {
			return err
		}
		if holding > 0 {
			return domain.InvalidOperation("Pool has %d purchases awaiting payment", holding)
		}
	}
	return nil
}

// maybeFund closes investment once every share is durably sold and no reservation is pending.
func maybeFund(ctx context.Context, tx *ledger.Tx, pool *domain.Pool) error {
	if pool.AvailableShares != 0 || !pool.Status.Investable() {
		return nil
	}
	holding, err := tx.CountHoldingCharges(pool.PoolID)
	if err != nil {
		return err
	}
	if holding > 0 {
		return nil
	}
	pool.Status = domain.PoolFunded
	metrics.PoolTransitions.WithLabelValues(string(domain.PoolFunded)).Inc()
	log.Ctx(ctx).Info().Str("pool_id", pool.PoolID.String()).Msg("pool fully subscribed; status funded")
	return nil
}

// GetPool returns a pool the actor may see. Drafts are hidden from everyone but their manager.
func (s *Service) GetPool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.Pool, error) {
	pool, gen := s.Cache.Get(ctx, poolID)
	if pool == nil {
		var err error
		pool, err = s.Ledger.Read(ctx).GetPool(poolID)
		if err != nil {
			return nil, err
		}
		s.Cache.Fill(ctx, pool, gen)
	}
	if !pool.VisibleTo(actor) {
		return nil, domain.ErrPoolNotFound
	}
	return pool, nil
}

func (s *Service) GetPoolBySlug(ctx context.Context, actor domain.Actor, slug string) (*domain.Pool, error) {
	pool, err := s.Ledger.Read(ctx).GetPoolBySlug(slug)
	if err != nil {
		return nil, err
	}
	if !pool.VisibleTo(actor) {
		return nil, domain.ErrPoolNotFound
	}
	return pool, nil
}

type ListPoolsQuery struct {
	Status    optional.Option[domain.PoolStatus]
	ManagerID optional.Option[uuid.UUID]
	Limit     int
	Offset    int
}

func (s *Service) ListPools(ctx context.Context, actor domain.Actor, q ListPoolsQuery) ([]domain.Pool, int64, error) {
	if st, ok := q.Status.Get(); ok && !st.Valid() {
		return nil, 0, domain.InvalidOperation("Unknown pool status %q", st)
	}
	pools, total, err := s.Ledger.Read(ctx).ListPools(ledger.PoolFilter{
		Status:    q.Status,
		ManagerID: q.ManagerID,
		Viewer:    &actor,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("Failed to list pools: %w", err)
	}
	return pools, total, nil
}

// ListPositions returns every position to the manager and only the actor's own to investors.
func (s *Service) ListPositions(ctx context.Context, actor domain.Actor, poolID uuid.UUID) ([]domain.Position, error) {
	r := s.Ledger.Read(ctx)
	pool, err := r.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if !pool.VisibleTo(actor) {
		return nil, domain.ErrPoolNotFound
	}
	if pool.ManagedBy(actor) {
		return r.ListPositions(poolID)
	}
	pos, err := r.GetPosition(poolID, actor.UserID)
	if errors.Is(err, domain.ErrPositionNotFound) {
		return []domain.Position{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.Position{*pos}, nil
}

// ListMyPositions returns the actor's positions across pools.
func (s *Service) ListMyPositions(ctx context.Context, actor domain.Actor) ([]domain.Position, error) {
	return s.Ledger.Read(ctx).ListUserPositions(actor.UserID)
}

// SignAgreement records the investor's acceptance of the pool agreement.
func (s *Service) SignAgreement(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.Position, error) {
	var out *domain.Position
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.GetPoolForUpdate(poolID); err != nil {
			return err
		}
		pos, err := tx.GetPosition(poolID, actor.UserID)
		if err != nil {
			return err
		}
		if !pos.Open() {
			return domain.InvalidOperation("Position is %s", pos.PaymentStatus)
		}
		if !pos.AgreementSigned {
			now := s.now()
			pos.AgreementSigned = true
			pos.AgreementSignedAt = &now
			if err := tx.UpsertPosition(pos); err != nil {
				return err
			}
		}
		out = pos
		return nil
	})
	return out, err
}
