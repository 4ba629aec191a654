package pools

import (
	"context"
	"errors"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/optional"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// HandleChargeEvent applies an asynchronous charge outcome. Replays are no-ops: the
// charge's status is checked under the pool lock before anything moves.
func (s *Service) HandleChargeEvent(ctx context.Context, ev *domain.GatewayEvent) (*ChargeEventResult, error) {
	found, err := s.Ledger.Read(ctx).FindCharge(ledger.ChargeLookup{
		ChargeID: ev.MetaUUID(domain.MetaChargeID),
		Ref:      ev.ObjectRef,
		PoolID:   ev.MetaUUID(domain.MetaPoolID),
		UserID:   ev.MetaUUID(domain.MetaUserID),
		Shares:   ev.MetaShareCount(),
	})
	if err != nil {
		metrics.ChargeEvents.WithLabelValues(string(ev.Type), "unmatched").Inc()
		return nil, err
	}
	logger := log.Ctx(ctx).With().
		Str("event_id", ev.ID).
		Str("charge_id", found.ChargeID.String()).
		Str("pool_id", found.PoolID.String()).
		Logger()

	result := &ChargeEventResult{ChargeID: found.ChargeID, PoolID: found.PoolID}
	var refund *domain.Charge
	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		pool, ch, err := lockCharge(tx, found.ChargeID, found.PoolID)
		if err != nil {
			return err
		}
		if ch.ChargeRef == nil && ev.ObjectRef != "" {
			ref := ev.ObjectRef
			ch.ChargeRef = &ref
		}
		ch.LastEventID = &ev.ID
		ch.LastEvent = datatypes.JSON(ev.Raw)

		switch ev.Type {
		case domain.EventChargeSucceeded:
			result.Outcome, err = s.succeedTx(ctx, tx, pool, ch)
			if result.Outcome == OutcomeRefunded {
				refund = ch
			}
		case domain.EventChargeFailed, domain.EventChargeCanceled:
			result.Outcome = OutcomeIgnored
			if ch.Status.Holding() {
				to := domain.ChargeFailed
				if ev.Type == domain.EventChargeCanceled {
					to = domain.ChargeCanceled
				}
				result.Outcome = OutcomeReleased
				reason := ev.FailureReason
				if reason == "" {
					reason = string(ev.Type)
				}
				return releaseTx(tx, pool, ch, to, reason)
			}
		default:
			result.Outcome = OutcomeIgnored
		}
		if err != nil {
			return err
		}
		return tx.SaveCharge(ch)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, found.PoolID)

	if refund != nil {
		// Money arrived for shares that are no longer held; give it back.
		logger.Error().Msg("charge succeeded after its reservation was released; refunding")
		if err := s.refundLateCharge(ctx, refund); err != nil {
			metrics.ChargeEvents.WithLabelValues(string(ev.Type), "refund_failed").Inc()
			return nil, err
		}
	}
	metrics.ChargeEvents.WithLabelValues(string(ev.Type), result.Outcome).Inc()
	logger.Info().Str("type", string(ev.Type)).Str("outcome", result.Outcome).Msg("charge event applied")
	return result, nil
}

// succeedTx confirms a held reservation. A success for a released reservation takes the
// shares again when it still can; otherwise it reports OutcomeRefunded for the caller to refund.
func (s *Service) succeedTx(ctx context.Context, tx *ledger.Tx, pool *domain.Pool, ch *domain.Charge) (string, error) {
	switch {
	case ch.Status == domain.ChargeSucceeded || ch.Status == domain.ChargeRefunded:
		return OutcomeDuplicate, nil
	case ch.Status.Holding() && (pool.Status == domain.PoolCancelled || pool.CancellationRequestedAt != nil):
		return OutcomeRefunded, releaseTx(tx, pool, ch, domain.ChargeCanceled, "pool cancelled")
	case ch.Status.Holding():
		return OutcomeConfirmed, s.confirmTx(ctx, tx, pool, ch)
	}

	pos, err := tx.GetPositionByID(ch.PositionID)
	if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
		return "", err
	}
	canRetake := pos != nil && pos.PendingShares == 0 &&
		pool.AcceptsInvestment(s.now()) && pool.AvailableShares >= ch.Shares
	if !canRetake {
		return OutcomeRefunded, nil
	}
	pool.AvailableShares -= ch.Shares
	pos.PendingShares = ch.Shares
	pos.PendingAmount = ch.Amount
	if pos.PaymentStatus != domain.PaymentConfirmed {
		pos.PaymentStatus = domain.PaymentPending
	}
	if err := tx.UpsertPosition(pos); err != nil {
		return "", err
	}
	ch.Status = domain.ChargePending
	ch.FailureReason = nil
	return OutcomeReReserved, s.confirmTx(ctx, tx, pool, ch)
}

// confirmTx turns the charge's reservation into confirmed capital and recomputes ownership.
func (s *Service) confirmTx(ctx context.Context, tx *ledger.Tx, pool *domain.Pool, ch *domain.Charge) error {
	pos, err := tx.GetPositionByID(ch.PositionID)
	if err != nil {
		return err
	}
	now := s.now()
	pos.PendingShares -= ch.Shares
	pos.PendingAmount = pos.PendingAmount.Sub(ch.Amount)
	pos.Shares += ch.Shares
	pos.AmountInvested = pos.AmountInvested.Add(ch.Amount)
	pos.PaymentStatus = domain.PaymentConfirmed
	pos.ChargeRef = ch.ChargeRef
	if pos.ConfirmedAt == nil {
		pos.ConfirmedAt = &now
	}
	if err := tx.UpsertPosition(pos); err != nil {
		return err
	}

	ch.Status = domain.ChargeSucceeded
	ch.FailureReason = nil
	if err := tx.SaveCharge(ch); err != nil {
		return err
	}

	pool.RaisedAmount = pool.RaisedAmount.Add(ch.Amount)
	if _, err := recalculateTx(ctx, tx, pool); err != nil {
		return err
	}
	if err := maybeFund(ctx, tx, pool); err != nil {
		return err
	}
	return tx.SavePool(pool)
}

func (s *Service) refundLateCharge(ctx context.Context, ch *domain.Charge) error {
	res, err := s.Gateway.Refund(ctx, domain.RefundRequest{
		ChargeRef:      ch.Ref(),
		AmountCents:    optional.Some(ch.AmountCents),
		Reason:         "reservation released before payment completed",
		Metadata:       domain.ChargeMetadata(ch),
		IdempotencyKey: "refund-" + ch.ChargeID.String(),
	})
	if err != nil {
		metrics.Refunds.WithLabelValues("failed").Inc()
		log.Ctx(ctx).Error().Err(err).Str("charge_id", ch.ChargeID.String()).Msg("refund of late charge failed")
		return domain.PaymentError(err, "Refund of late payment failed")
	}
	metrics.Refunds.WithLabelValues("succeeded").Inc()
	return s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		_, locked, err := lockCharge(tx, ch.ChargeID, ch.PoolID)
		if err != nil {
			return err
		}
		locked.Status = domain.ChargeRefunded
		locked.RefundRef = &res.Ref
		return tx.SaveCharge(locked)
	})
}
