package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PurchaseShares reserves shares for the actor and opens a gateway charge for them.
//
// The reservation is taken under the pool lock before the gateway is called, so two
// requests can never both hold the last shares. It becomes durable when the charge
// succeeds and is released on failure, cancellation or expiry.
func (s *Service) PurchaseShares(ctx context.Context, actor domain.Actor, cmd PurchaseCommand) (*PurchaseResult, error) {
	if err := validation.Struct(cmd); err != nil {
		metrics.Purchases.WithLabelValues("rejected").Inc()
		return nil, err
	}
	logger := log.Ctx(ctx).With().Str("pool_id", cmd.PoolID.String()).Str("user_id", actor.UserID.String()).Logger()

	var charge *domain.Charge
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		var err error
		charge, err = s.reserveTx(tx, actor, cmd)
		return err
	})
	if err != nil {
		if domain.CodeOf(err) != "" {
			metrics.Purchases.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	s.invalidate(ctx, cmd.PoolID)
	metrics.SharesReserved.Add(float64(charge.Shares))

	res, gwErr := s.Gateway.CreateCharge(ctx, domain.ChargeRequest{
		AmountCents:    charge.AmountCents,
		Currency:       charge.Currency,
		Metadata:       domain.ChargeMetadata(charge),
		IdempotencyKey: "charge-" + charge.ChargeID.String(),
	})
	if gwErr == nil {
		if pm, ok := cmd.PaymentMethod.Get(); ok && pm != "" {
			if gwErr = s.Gateway.ConfirmCharge(ctx, res.Ref, pm); gwErr != nil {
				if cerr := s.Gateway.CancelCharge(ctx, res.Ref); cerr != nil {
					logger.Warn().Err(cerr).Str("charge_ref", res.Ref).Msg("cancel after failed confirmation failed")
				}
			}
		}
	}
	if gwErr != nil {
		metrics.Purchases.WithLabelValues("payment_error").Inc()
		logger.Error().Err(gwErr).Str("charge_id", charge.ChargeID.String()).Msg("gateway rejected purchase; releasing reservation")
		if err := s.releaseCharge(ctx, charge.ChargeID, charge.PoolID, domain.ChargeFailed, gwErr.Error()); err != nil {
			logger.Error().Err(err).Str("charge_id", charge.ChargeID.String()).Msg("failed to release reservation; sweeper will retry")
		}
		return nil, domain.PaymentError(gwErr, "Payment could not be initiated")
	}

	out := &PurchaseResult{ClientSecret: res.ClientSecret}
	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		_, ch, err := lockCharge(tx, charge.ChargeID, charge.PoolID)
		if err != nil {
			return err
		}
		if ch.ChargeRef == nil {
			ch.ChargeRef = &res.Ref
		}
		if ch.Status == domain.ChargeReserved {
			ch.Status = domain.ChargePending
		}
		if err := tx.SaveCharge(ch); err != nil {
			return err
		}
		pos, err := tx.GetPositionByID(ch.PositionID)
		if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
			return err
		}
		if pos != nil && ch.Status.Holding() {
			pos.ChargeRef = ch.ChargeRef
			if err := tx.UpsertPosition(pos); err != nil {
				return err
			}
		}
		out.Charge, out.Position = ch, pos
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to record charge reference: %w", err)
	}
	if out.Charge.Status.Released() {
		// Cancelled or expired while the gateway call was in flight.
		if cerr := s.Gateway.CancelCharge(ctx, res.Ref); cerr != nil {
			logger.Warn().Err(cerr).Str("charge_ref", res.Ref).Msg("cancel of released charge failed")
		}
	}
	metrics.Purchases.WithLabelValues("reserved").Inc()
	logger.Info().Str("charge_id", charge.ChargeID.String()).Int64("shares", charge.Shares).Msg("shares reserved")
	return out, nil
}

// reserveTx validates the purchase against the locked pool and takes the reservation.
func (s *Service) reserveTx(tx *ledger.Tx, actor domain.Actor, cmd PurchaseCommand) (*domain.Charge, error) {
	pool, err := tx.GetPoolForUpdate(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.VisibleTo(actor) {
		return nil, domain.ErrPoolNotFound
	}
	now := s.now()
	switch {
	case !pool.Status.Investable():
		return nil, domain.InvalidOperation("Pool is %s and not accepting investments", pool.Status)
	case pool.CancellationRequestedAt != nil:
		return nil, domain.InvalidOperation("Pool is being cancelled")
	case !pool.AcceptsInvestment(now):
		return nil, domain.InvalidOperation("Pool funding deadline has passed")
	}
	if cmd.Shares > pool.AvailableShares {
		return nil, domain.InvalidOperation("Only %d shares available", pool.AvailableShares)
	}
	amount := pool.PurchaseAmount(cmd.Shares)
	if amount.LessThan(pool.MinInvestment) {
		return nil, domain.InvalidOperation("Minimum investment is %s", pool.MinInvestment.StringFixed(2))
	}

	pos, err := tx.GetPosition(pool.PoolID, actor.UserID)
	if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
		return nil, err
	}
	if pos == nil {
		pos = &domain.Position{PoolID: pool.PoolID, UserID: actor.UserID}
	}
	if pos.PendingShares > 0 {
		return nil, domain.InvalidOperation("A purchase in this pool is already awaiting payment")
	}
	if pool.MaxInvestment.IsPositive() && pos.AmountInvested.Add(amount).GreaterThan(pool.MaxInvestment) {
		return nil, domain.InvalidOperation("Maximum investment per investor is %s", pool.MaxInvestment.StringFixed(2))
	}

	if pos.PaymentStatus != domain.PaymentConfirmed {
		pos.PaymentStatus = domain.PaymentPending
		pos.SharePriceAtPurchase = pool.SharePrice
	}
	pos.PendingShares += cmd.Shares
	pos.PendingAmount = pos.PendingAmount.Add(amount)
	if err := tx.UpsertPosition(pos); err != nil {
		return nil, err
	}

	pool.AvailableShares -= cmd.Shares
	if err := tx.SavePool(pool); err != nil {
		return nil, err
	}

	charge := &domain.Charge{
		ChargeID:      uuid.New(),
		PoolID:        pool.PoolID,
		PositionID:    pos.PositionID,
		UserID:        actor.UserID,
		Shares:        cmd.Shares,
		Amount:        amount,
		AmountCents:   domain.ToCents(amount),
		Currency:      s.Currency,
		PaymentMethod: cmd.PaymentMethod.Ptr(),
		Status:        domain.ChargeReserved,
		ReservedUntil: now.Add(s.reservationTTL()),
	}
	if charge.Currency == "" {
		charge.Currency = "usd"
	}
	meta, _ := json.Marshal(domain.ChargeMetadata(charge))
	charge.Metadata = datatypes.JSON(meta)
	if err := tx.CreateCharge(charge); err != nil {
		return nil, err
	}
	return charge, nil
}

// releaseCharge gives a holding charge's shares back in its own transaction.
func (s *Service) releaseCharge(ctx context.Context, chargeID, poolID uuid.UUID, to domain.ChargeStatus, reason string) error {
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, ch, err := lockCharge(tx, chargeID, poolID)
		if err != nil {
			return err
		}
		return releaseTx(tx, pool, ch, to, reason)
	})
	if err == nil {
		s.invalidate(ctx, poolID)
	}
	return err
}

// releaseTx returns a holding charge's reserved shares to the pool and marks the charge
// with the given terminal status. A position left with nothing confirmed becomes failed.
// Shares of a cancelled pool are not returned: its counter was already reset.
func releaseTx(tx *ledger.Tx, pool *domain.Pool, ch *domain.Charge, to domain.ChargeStatus, reason string) error {
	if !ch.Status.Holding() {
		return nil
	}
	if pool.Status != domain.PoolCancelled {
		pool.AvailableShares += ch.Shares
		if err := tx.SavePool(pool); err != nil {
			return err
		}
	}
	pos, err := tx.GetPositionByID(ch.PositionID)
	if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
		return err
	}
	if pos != nil {
		pos.PendingShares -= ch.Shares
		pos.PendingAmount = pos.PendingAmount.Sub(ch.Amount)
		if pos.PendingShares <= 0 {
			pos.PendingShares = 0
			pos.PendingAmount = decimal.Zero
		}
		if pos.Shares == 0 && pos.PendingShares == 0 && pos.PaymentStatus == domain.PaymentPending {
			pos.PaymentStatus = domain.PaymentFailed
		}
		if err := tx.UpsertPosition(pos); err != nil {
			return err
		}
	}
	ch.Status = to
	if reason != "" {
		ch.FailureReason = &reason
	}
	return tx.SaveCharge(ch)
}
