package pools

import (
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePoolCommand struct {
	Name                 string          `json:"name" validate:"required,max=200"`
	Slug                 string          `json:"slug" validate:"omitempty,slug"`
	TargetAmount         decimal.Decimal `json:"target_amount" validate:"dpositive"`
	MinInvestment        decimal.Decimal `json:"min_investment" validate:"dnonneg"`
	MaxInvestment        decimal.Decimal `json:"max_investment" validate:"dnonneg"`
	SharePrice           decimal.Decimal `json:"share_price" validate:"dpositive"`
	TotalShares          int64           `json:"total_shares" validate:"gt=0"`
	ExpectedReturn       decimal.Decimal `json:"expected_return"`
	ManagementFeePercent decimal.Decimal `json:"management_fee_percent" validate:"dnonneg"`
	FundingDeadline      *time.Time      `json:"funding_deadline"`
	StartDate            *time.Time      `json:"start_date"`
}

// UpdatePoolCommand changes a pool's terms. Unset fields are left as they are.
// TargetAmount, SharePrice and TotalShares are frozen once capital is committed.
type UpdatePoolCommand struct {
	Name                 optional.Option[string]          `json:"name"`
	TargetAmount         optional.Option[decimal.Decimal] `json:"target_amount"`
	MinInvestment        optional.Option[decimal.Decimal] `json:"min_investment"`
	MaxInvestment        optional.Option[decimal.Decimal] `json:"max_investment"`
	SharePrice           optional.Option[decimal.Decimal] `json:"share_price"`
	TotalShares          optional.Option[int64]           `json:"total_shares"`
	ExpectedReturn       optional.Option[decimal.Decimal] `json:"expected_return"`
	ManagementFeePercent optional.Option[decimal.Decimal] `json:"management_fee_percent"`
	FundingDeadline      optional.Option[time.Time]       `json:"funding_deadline"`
	StartDate            optional.Option[time.Time]       `json:"start_date"`
}

func (c UpdatePoolCommand) touchesFinancialTerms() bool {
	return c.TargetAmount.IsSet() || c.SharePrice.IsSet() || c.TotalShares.IsSet()
}

type PurchaseCommand struct {
	PoolID uuid.UUID `json:"-"`
	Shares int64     `json:"shares" validate:"gt=0"`
	// PaymentMethod confirms the charge immediately when set; otherwise the client
	// completes payment with the returned client secret.
	PaymentMethod optional.Option[string] `json:"payment_method"`
}

type PurchaseResult struct {
	Position     *domain.Position `json:"position"`
	Charge       *domain.Charge   `json:"charge"`
	ClientSecret string           `json:"client_secret,omitempty"`
}

// Charge event outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeReleased   = "released"
	OutcomeDuplicate  = "duplicate"
	OutcomeReReserved = "re_reserved"
	OutcomeRefunded   = "refunded"
	OutcomeIgnored    = "ignored"
)

type ChargeEventResult struct {
	ChargeID uuid.UUID `json:"charge_id"`
	PoolID   uuid.UUID `json:"pool_id"`
	Outcome  string    `json:"outcome"`
}

// Position cancellation outcomes.
const (
	PositionRefunded  = "refunded"
	PositionCancelled = "cancelled"
	PositionFailed    = "failed"
)

type PositionOutcome struct {
	PositionID uuid.UUID `json:"position_id"`
	UserID     uuid.UUID `json:"user_id"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	err        error
}

// Err returns the failure behind a failed outcome.
func (o PositionOutcome) Err() error {
	return o.err
}

type CancelPoolResult struct {
	Pool      *domain.Pool      `json:"pool"`
	Positions []PositionOutcome `json:"positions"`
	Refunded  int               `json:"refunded"`
	Cancelled int               `json:"cancelled"`
	Failed    int               `json:"failed"`
}
