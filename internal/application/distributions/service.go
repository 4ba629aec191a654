// Package distributions splits pool income across confirmed positions and pays it out.
package distributions

import (
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/cache"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	Ledger  *ledger.Store
	Gateway domain.PaymentGateway
	Cache   *cache.PoolCache

	Now               func() time.Time
	Currency          string
	PayoutConcurrency int
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "usd"
	}
	return s.Currency
}

func (s *Service) payoutConcurrency() int {
	if s.PayoutConcurrency > 0 {
		return s.PayoutConcurrency
	}
	return 4
}

type CreateBatchCommand struct {
	PoolID      uuid.UUID               `json:"-"`
	Type        domain.DistributionType `json:"type" validate:"required"`
	Period      string                  `json:"period" validate:"required,max=50"`
	GrossAmount decimal.Decimal         `json:"gross_amount" validate:"dpositive"`
	Fees        decimal.Decimal         `json:"fees" validate:"dnonneg"`
	Taxes       decimal.Decimal         `json:"taxes" validate:"dnonneg"`
	Notes       *string                 `json:"notes"`
}

type Batch struct {
	BatchID       uuid.UUID             `json:"batch_id"`
	PoolID        uuid.UUID             `json:"pool_id"`
	GrossAmount   decimal.Decimal       `json:"gross_amount"`
	Fees          decimal.Decimal       `json:"fees"`
	Taxes         decimal.Decimal       `json:"taxes"`
	NetAmount     decimal.Decimal       `json:"net_amount"`
	Distributions []domain.Distribution `json:"distributions"`
}

type PayoutCommand struct {
	PaymentMethod *string `json:"payment_method"`
	// Destination is a connected gateway account; when set the net amount is transferred to it.
	Destination *string `json:"destination"`
	Notes       *string `json:"notes"`
}

// Payout outcomes.
const (
	PayoutPaid        = "paid"
	PayoutAlreadyPaid = "already_paid"
	PayoutFailed      = "failed"
)

type PayoutOutcome struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	UserID         uuid.UUID `json:"user_id"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
}

type PayoutBatchResult struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Outcomes []PayoutOutcome `json:"outcomes"`
	Paid     int             `json:"paid"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
}

type TransferEventResult struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	Outcome        string    `json:"outcome"`
}

type ListQuery struct {
	PoolID  optional.Option[uuid.UUID]
	BatchID optional.Option[uuid.UUID]
	Status  optional.Option[domain.DistributionStatus]
}
