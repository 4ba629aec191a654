package distributions

import (
	"context"
	"fmt"

	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	conc "github.com/sourcegraph/conc/pool"
)

func (s *Service) authorizePayout(ctx context.Context, actor domain.Actor, poolID uuid.UUID) error {
	if !constants.AllowedRole(constants.PayoutDistributions, actor.Role) {
		return domain.Forbidden("Only pool managers can pay out distributions")
	}
	pool, err := s.Ledger.Read(ctx).GetPool(poolID)
	if err != nil {
		return err
	}
	if !pool.ManagedBy(actor) {
		return domain.ErrNotPoolManager
	}
	return nil
}

// Payout marks one distribution paid. Paying a completed distribution again returns it
// unchanged. A distribution left processing by an interrupted payout is resumed: the
// transfer is re-issued under the same idempotency key, so the gateway moves the money once.
func (s *Service) Payout(ctx context.Context, actor domain.Actor, distributionID uuid.UUID, cmd PayoutCommand) (*domain.Distribution, error) {
	d, err := s.Ledger.Read(ctx).GetDistribution(distributionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizePayout(ctx, actor, d.PoolID); err != nil {
		return nil, err
	}
	d, _, err = s.payout(ctx, d.DistributionID, cmd)
	return d, err
}

// payout claims the distribution, moves the money when a destination is given and then
// completes the record. The bool reports whether this call did the paying.
func (s *Service) payout(ctx context.Context, id uuid.UUID, cmd PayoutCommand) (*domain.Distribution, bool, error) {
	logger := log.Ctx(ctx).With().Str("distribution_id", id.String()).Logger()

	var d *domain.Distribution
	err := s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		var err error
		if d, err = tx.GetDistribution(id); err != nil {
			return err
		}
		if _, err := tx.GetPoolForUpdate(d.PoolID); err != nil {
			return err
		}
		claimed, err := tx.ClaimDistribution(id, cmd.PaymentMethod)
		if err != nil {
			return err
		}
		if d, err = tx.GetDistribution(id); err != nil {
			return err
		}
		if !claimed && d.Status == domain.DistributionProcessing {
			logger.Warn().Msg("resuming interrupted payout")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if d.Status == domain.DistributionCompleted {
		metrics.Payouts.WithLabelValues(PayoutAlreadyPaid).Inc()
		return d, false, nil
	}

	var transferRef *string
	if dest := optional.FromPtr(cmd.Destination).OrElse(""); dest != "" && d.NetAmount.IsPositive() {
		res, err := s.Gateway.Transfer(ctx, domain.TransferRequest{
			AmountCents: domain.ToCents(d.NetAmount),
			Currency:    s.currency(),
			Destination: dest,
			Metadata: map[string]string{
				domain.MetaDistributionID: d.DistributionID.String(),
				domain.MetaPoolID:         d.PoolID.String(),
				domain.MetaUserID:         d.UserID.String(),
			},
			IdempotencyKey: "payout-" + d.DistributionID.String(),
		})
		if err != nil {
			metrics.Payouts.WithLabelValues(PayoutFailed).Inc()
			logger.Error().Err(err).Msg("distribution transfer failed; returning to pending")
			if rerr := s.release(ctx, d); rerr != nil {
				logger.Error().Err(rerr).Msg("failed to return distribution to pending")
			}
			return nil, false, domain.PaymentError(err, "Transfer failed")
		}
		transferRef = &res.Ref
	}

	paid := false
	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.GetPoolForUpdate(d.PoolID); err != nil {
			return err
		}
		locked, err := tx.GetDistribution(id)
		if err != nil {
			return err
		}
		if cmd.Notes != nil {
			locked.Notes = cmd.Notes
		}
		if paid, err = s.completeTx(tx, locked, transferRef); err != nil {
			return err
		}
		d = locked
		return nil
	})
	if err != nil {
		// The row stays processing; a retried payout or the transfer webhook completes it.
		logger.Error().Err(err).Msg("failed to complete distribution after payout")
		return nil, false, fmt.Errorf("Failed to complete distribution: %w", err)
	}
	if !paid {
		metrics.Payouts.WithLabelValues(PayoutAlreadyPaid).Inc()
		return d, false, nil
	}
	metrics.Payouts.WithLabelValues(PayoutPaid).Inc()
	logger.Info().Str("net", d.NetAmount.StringFixed(2)).Msg("distribution paid")
	return d, true, nil
}

// completeTx marks a locked distribution completed and credits the position's
// totalDistributed. It reports false when the distribution was already completed.
func (s *Service) completeTx(tx *ledger.Tx, d *domain.Distribution, transferRef *string) (bool, error) {
	if transferRef != nil && d.TransferRef == nil {
		d.TransferRef = transferRef
	}
	if d.Status == domain.DistributionCompleted {
		return false, tx.SaveDistribution(d)
	}
	now := s.now()
	d.Status = domain.DistributionCompleted
	d.PaidAt = &now
	if err := tx.SaveDistribution(d); err != nil {
		return false, err
	}
	pos, err := tx.GetPositionByID(d.PositionID)
	if err != nil {
		return false, err
	}
	pos.TotalDistributed = pos.TotalDistributed.Add(d.NetAmount)
	return true, tx.UpsertPosition(pos)
}

// release returns a claimed distribution to pending after a failed transfer.
func (s *Service) release(ctx context.Context, d *domain.Distribution) error {
	return s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		locked, err := tx.GetDistribution(d.DistributionID)
		if err != nil {
			return err
		}
		if locked.Status != domain.DistributionProcessing {
			return nil
		}
		locked.Status = domain.DistributionPending
		return tx.SaveDistribution(locked)
	})
}

// PayoutBatch pays every distribution of a batch with bounded concurrency. Failures are
// reported per distribution and do not stop the others.
func (s *Service) PayoutBatch(ctx context.Context, actor domain.Actor, batchID uuid.UUID, cmd PayoutCommand) (*PayoutBatchResult, error) {
	rows, err := s.Ledger.Read(ctx).ListDistributions(ledger.DistributionFilter{BatchID: optional.Some(batchID)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("Distribution batch not found")
	}
	if err := s.authorizePayout(ctx, actor, rows[0].PoolID); err != nil {
		return nil, err
	}

	workers := conc.NewWithResults[PayoutOutcome]().WithMaxGoroutines(s.payoutConcurrency())
	for _, row := range rows {
		row := row
		workers.Go(func() PayoutOutcome {
			out := PayoutOutcome{DistributionID: row.DistributionID, UserID: row.UserID, Outcome: PayoutPaid}
			_, paid, err := s.payout(ctx, row.DistributionID, cmd)
			switch {
			case err != nil:
				out.Outcome = PayoutFailed
				out.Error = err.Error()
			case !paid:
				out.Outcome = PayoutAlreadyPaid
			}
			return out
		})
	}

	result := &PayoutBatchResult{BatchID: batchID, Outcomes: workers.Wait()}
	for _, o := range result.Outcomes {
		switch o.Outcome {
		case PayoutPaid:
			result.Paid++
		case PayoutAlreadyPaid:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	log.Ctx(ctx).Info().
		Str("batch_id", batchID.String()).
		Int("paid", result.Paid).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("distribution batch paid out")
	return result, nil
}
