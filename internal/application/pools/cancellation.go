package pools

import (
	"context"
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	conc "github.com/sourcegraph/conc/pool"
)

// CancelPosition cancels one investor's position. The investor or the pool's manager may do so.
//
// Confirmed capital is refunded first, one charge per transaction; a gateway failure stops
// there and is returned with the position and pool untouched by that charge. Open
// reservations are then cancelled at the gateway and released. A position that never held
// confirmed shares is deleted; one that did ends refunded.
func (s *Service) CancelPosition(ctx context.Context, actor domain.Actor, positionID uuid.UUID, reason string) (*PositionOutcome, error) {
	r := s.Ledger.Read(ctx)
	pos, err := r.GetPositionByID(positionID)
	if err != nil {
		return nil, err
	}
	p, err := r.GetPool(pos.PoolID)
	if err != nil {
		return nil, err
	}
	if pos.UserID != actor.UserID && !p.ManagedBy(actor) {
		return nil, domain.ErrNotPositionOwner
	}
	outcome, err := s.cancelPosition(ctx, pos.PoolID, positionID, reason, false)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// cancelPosition runs the per-position workflow. forPool relaxes the pool-status rule for
// confirmed positions while the whole pool is being cancelled.
func (s *Service) cancelPosition(ctx context.Context, poolID, positionID uuid.UUID, reason string, forPool bool) (PositionOutcome, error) {
	logger := log.Ctx(ctx).With().Str("pool_id", poolID.String()).Str("position_id", positionID.String()).Logger()
	out := PositionOutcome{PositionID: positionID}

	var succeeded, holding []domain.Charge
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		p, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		pos, err := tx.GetPositionByID(positionID)
		if err != nil {
			return err
		}
		out.UserID = pos.UserID
		if !pos.Open() {
			return domain.InvalidOperation("Position is %s and cannot be cancelled", pos.PaymentStatus)
		}
		refundable := forPool || p.Status.Investable() || p.Status == domain.PoolCancelled
		if pos.Shares > 0 && !refundable {
			return domain.InvalidOperation("Confirmed positions can only be cancelled while the pool is seeking or active")
		}
		if succeeded, err = tx.ListPositionCharges(positionID, domain.ChargeSucceeded); err != nil {
			return err
		}
		holding, err = tx.ListPositionCharges(positionID, domain.ChargeReserved, domain.ChargePending)
		return err
	})
	if err != nil {
		return out, err
	}

	refunded := false
	for i := range succeeded {
		if err := s.refundCharge(ctx, &succeeded[i], reason); err != nil {
			logger.Error().Err(err).Str("charge_id", succeeded[i].ChargeID.String()).Msg("refund failed; position left unchanged")
			return out, err
		}
		refunded = true
	}
	for i := range holding {
		ch := &holding[i]
		if ref := ch.Ref(); ref != "" {
			if err := s.Gateway.CancelCharge(ctx, ref); err != nil {
				logger.Error().Err(err).Str("charge_id", ch.ChargeID.String()).Msg("gateway cancel failed")
				return out, domain.PaymentError(err, "Cancelling the pending charge failed")
			}
		}
		if err := s.releaseCharge(ctx, ch.ChargeID, poolID, domain.ChargeCanceled, reasonOr(reason, "cancelled by investor")); err != nil {
			return out, err
		}
	}

	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.GetPoolForUpdate(poolID); err != nil {
			return err
		}
		pos, err := tx.GetPositionByID(positionID)
		if err != nil {
			return err
		}
		if pos.Shares > 0 || pos.PendingShares > 0 {
			// A new purchase or confirmation landed meanwhile; leave it for another pass.
			return domain.InvalidOperation("Position changed during cancellation; retry")
		}
		if pos.ConfirmedAt != nil || refunded {
			pos.PaymentStatus = domain.PaymentRefunded
			pos.OwnershipPercent = decimal.Zero
			return tx.UpsertPosition(pos)
		}
		return tx.DeletePosition(positionID)
	})
	if err != nil {
		return out, err
	}
	s.invalidate(ctx, poolID)

	out.Outcome = PositionCancelled
	if refunded {
		out.Outcome = PositionRefunded
	}
	logger.Info().Str("outcome", out.Outcome).Msg("position cancelled")
	return out, nil
}

func reasonOr(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}

// refundCharge refunds one succeeded charge at the gateway and then reverses its capital
// in one transaction.
func (s *Service) refundCharge(ctx context.Context, ch *domain.Charge, reason string) error {
	res, err := s.Gateway.Refund(ctx, domain.RefundRequest{
		ChargeRef:      ch.Ref(),
		AmountCents:    optional.Some(ch.AmountCents),
		Reason:         reasonOr(reason, "investment cancelled"),
		Metadata:       domain.ChargeMetadata(ch),
		IdempotencyKey: "refund-" + ch.ChargeID.String(),
	})
	if err != nil {
		metrics.Refunds.WithLabelValues("failed").Inc()
		return domain.PaymentError(err, "Refund failed")
	}
	metrics.Refunds.WithLabelValues("succeeded").Inc()

	return s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		p, locked, err := lockCharge(tx, ch.ChargeID, ch.PoolID)
		if err != nil {
			return err
		}
		if locked.Status != domain.ChargeSucceeded {
			return nil
		}
		pos, err := tx.GetPositionByID(locked.PositionID)
		if err != nil {
			return err
		}
		pos.Shares -= locked.Shares
		pos.AmountInvested = pos.AmountInvested.Sub(locked.Amount)
		if pos.Shares <= 0 {
			pos.Shares = 0
			pos.AmountInvested = decimal.Zero
			pos.OwnershipPercent = decimal.Zero
			if pos.PendingShares == 0 {
				pos.PaymentStatus = domain.PaymentRefunded
			} else {
				pos.PaymentStatus = domain.PaymentPending
			}
		}
		if err := tx.UpsertPosition(pos); err != nil {
			return err
		}

		locked.Status = domain.ChargeRefunded
		locked.RefundRef = &res.Ref
		if err := tx.SaveCharge(locked); err != nil {
			return err
		}

		if p.Status == domain.PoolCancelled {
			// The pool-level reset already zeroed raised capital and restored shares.
			return nil
		}
		p.RaisedAmount = p.RaisedAmount.Sub(locked.Amount)
		p.AvailableShares += locked.Shares
		if _, err := recalculateTx(ctx, tx, p); err != nil {
			return err
		}
		return tx.SavePool(p)
	})
}

// CancelPool refunds or cancels every open position, then writes the cancelled state once.
//
// Per-position failures are reported in the result and do not stop the pool from being
// cancelled; those positions can be retried individually with CancelPosition.
func (s *Service) CancelPool(ctx context.Context, actor domain.Actor, poolID uuid.UUID, reason string) (*CancelPoolResult, error) {
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		p, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		if !p.ManagedBy(actor) {
			return domain.ErrNotPoolManager
		}
		if p.Status.Terminal() {
			return domain.InvalidOperation("Pool is already %s", p.Status)
		}
		upd := ledger.PoolUpdate{}
		if p.CancellationRequestedAt == nil {
			upd.CancellationRequestedAt = optional.Some(s.now())
		}
		if reason != "" {
			upd.CancellationReason = optional.Some(reason)
		}
		_, err = tx.UpdatePool(poolID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, poolID)
	return s.finishCancellation(ctx, poolID, reason)
}

// ResumeCancellations finishes pool cancellations that were requested more than olderThan
// ago and never reached the cancelled state. It returns how many pools it cancelled.
func (s *Service) ResumeCancellations(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.Ledger.Read(ctx).PoolIDsWithCancellationPending(s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		p, err := s.Ledger.Read(ctx).GetPool(id)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("pool_id", id.String()).Msg("failed to load pool with pending cancellation")
			continue
		}
		reason := ""
		if p.CancellationReason != nil {
			reason = *p.CancellationReason
		}
		if _, err := s.finishCancellation(ctx, id, reason); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("pool_id", id.String()).Msg("failed to resume pool cancellation")
			continue
		}
		done++
	}
	if done > 0 {
		log.Ctx(ctx).Info().Int("pools", done).Msg("interrupted pool cancellations finished")
	}
	return done, nil
}

// finishCancellation refunds or cancels every open position of a pool whose cancellation
// is already recorded, then writes the cancelled state.
func (s *Service) finishCancellation(ctx context.Context, poolID uuid.UUID, reason string) (*CancelPoolResult, error) {
	logger := log.Ctx(ctx).With().Str("pool_id", poolID.String()).Logger()

	open, err := s.Ledger.Read(ctx).ListOpenPositions(poolID)
	if err != nil {
		return nil, err
	}

	workers := conc.NewWithResults[PositionOutcome]().WithMaxGoroutines(s.refundConcurrency())
	for _, pos := range open {
		pos := pos
		workers.Go(func() PositionOutcome {
			o, err := s.cancelPosition(ctx, poolID, pos.PositionID, reasonOr(reason, "pool cancelled"), true)
			if err != nil {
				return PositionOutcome{PositionID: pos.PositionID, UserID: pos.UserID, Outcome: PositionFailed, Error: err.Error(), err: err}
			}
			return o
		})
	}
	outcomes := workers.Wait()

	result := &CancelPoolResult{Positions: outcomes}
	for _, o := range outcomes {
		switch o.Outcome {
		case PositionRefunded:
			result.Refunded++
		case PositionCancelled:
			result.Cancelled++
		default:
			result.Failed++
			logger.Error().Err(o.err).Str("position_id", o.PositionID.String()).Msg("position not refunded during pool cancellation")
		}
	}

	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		p, err := tx.GetPoolForUpdate(poolID)
		if err != nil {
			return err
		}
		upd := ledger.PoolUpdate{
			Status:          optional.Some(domain.PoolCancelled),
			RaisedAmount:    optional.Some(decimal.Zero),
			AvailableShares: optional.Some(p.TotalShares),
			CancelledAt:     optional.Some(s.now()),
		}
		if reason != "" {
			upd.CancellationReason = optional.Some(reason)
		}
		result.Pool, err = tx.UpdatePool(poolID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, poolID)
	metrics.PoolTransitions.WithLabelValues(string(domain.PoolCancelled)).Inc()
	logger.Info().
		Int("refunded", result.Refunded).
		Int("cancelled", result.Cancelled).
		Int("failed", result.Failed).
		Msg("pool cancelled")
	return result, nil
}
