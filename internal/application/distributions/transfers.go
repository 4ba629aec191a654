package distributions

import (
	"context"
	"errors"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transfer event outcomes.
const (
	TransferConfirmed = "confirmed"
	// TransferCompleted: the event also finished a payout that never recorded completion.
	TransferCompleted = "completed"
	TransferDuplicate = "duplicate"
)

// HandleTransferEvent stamps the gateway's confirmation of a payout transfer. The
// distribution is matched by its metadata id, then by transfer reference. A distribution
// that is not yet completed is completed here, since the money has moved. Replays are no-ops.
func (s *Service) HandleTransferEvent(ctx context.Context, ev *domain.GatewayEvent) (*TransferEventResult, error) {
	r := s.Ledger.Read(ctx)
	var (
		d   *domain.Distribution
		err error
	)
	if id := ev.MetaUUID(domain.MetaDistributionID); id != uuid.Nil {
		d, err = r.GetDistribution(id)
	} else {
		err = domain.ErrDistributionNotFound
	}
	if errors.Is(err, domain.ErrDistributionNotFound) && ev.ObjectRef != "" {
		d, err = r.GetDistributionByTransferRef(ev.ObjectRef)
	}
	if err != nil {
		return nil, err
	}

	result := &TransferEventResult{DistributionID: d.DistributionID, Outcome: TransferDuplicate}
	err = s.Ledger.InTx(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.GetPoolForUpdate(d.PoolID); err != nil {
			return err
		}
		locked, err := tx.GetDistribution(d.DistributionID)
		if err != nil {
			return err
		}
		if locked.TransferConfirmedAt != nil && locked.Status == domain.DistributionCompleted {
			return nil
		}
		if locked.TransferConfirmedAt == nil {
			now := s.now()
			locked.TransferConfirmedAt = &now
			result.Outcome = TransferConfirmed
		}
		var ref *string
		if ev.ObjectRef != "" {
			ref = &ev.ObjectRef
		}
		completed, err := s.completeTx(tx, locked, ref)
		if err != nil {
			return err
		}
		if completed {
			result.Outcome = TransferCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("event_id", ev.ID).
		Str("distribution_id", d.DistributionID.String()).
		Str("outcome", result.Outcome).
		Msg("transfer event applied")
	return result, nil
}
