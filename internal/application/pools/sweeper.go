package pools

import (
	"context"
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ExpireReservations releases up to limit reservations whose payment never completed
// within the reservation window. Each charge is cancelled at the gateway first; one that
// cannot be cancelled is skipped and retried on the next run.
func (s *Service) ExpireReservations(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	charges, err := s.Ledger.Read(ctx).ListExpiredReservations(s.now(), limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range charges {
		ch := &charges[i]
		logger := log.Ctx(ctx).With().Str("charge_id", ch.ChargeID.String()).Str("pool_id", ch.PoolID.String()).Logger()
		if ref := ch.Ref(); ref != "" {
			if err := s.Gateway.CancelCharge(ctx, ref); err != nil {
				logger.Warn().Err(err).Msg("gateway cancel of expired reservation failed")
				continue
			}
		}
		if err := s.releaseCharge(ctx, ch.ChargeID, ch.PoolID, domain.ChargeExpired, "reservation expired"); err != nil {
			logger.Error().Err(err).Msg("failed to release expired reservation")
			continue
		}
		released++
		metrics.ReservationsExpired.Inc()
	}
	if released > 0 {
		log.Ctx(ctx).Info().Int("released", released).Msg("expired reservations released")
	}
	return released, nil
}

// SweepJob runs ExpireReservations on a schedule.
type SweepJob struct {
	Service *Service
	Limit   int
}

func (j *SweepJob) Name() string {
	return "reservation-sweeper"
}

func (j *SweepJob) Run(ctx context.Context) error {
	_, err := j.Service.ExpireReservations(ctx, j.Limit)
	return err
}

// CancellationJob finishes pool cancellations left unfinished, for example by a crash
// between the cancellation request and the final state write. Pools are only picked up
// once their request is older than After, so a cancellation still running is left alone.
type CancellationJob struct {
	Service *Service
	After   time.Duration
}

func (j *CancellationJob) Name() string {
	return "cancellation-resumer"
}

func (j *CancellationJob) Run(ctx context.Context) error {
	after := j.After
	if after <= 0 {
		after = 10 * time.Minute
	}
	_, err := j.Service.ResumeCancellations(ctx, after)
	return err
}
