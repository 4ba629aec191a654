package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PoolStatus string

const (
	PoolDraft        PoolStatus = "draft"
	PoolSeeking      PoolStatus = "seeking"
	PoolActive       PoolStatus = "active"
	PoolFunded       PoolStatus = "funded"
	PoolDistributing PoolStatus = "distributing"
	PoolCompleted    PoolStatus = "completed"
	PoolCancelled    PoolStatus = "cancelled"
)

// poolTransitions lists the legal next states. Cancellation is reachable from every
// non-terminal state but only through the cancellation workflow.
var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolDraft:        {PoolSeeking, PoolCancelled},
	PoolSeeking:      {PoolActive, PoolFunded, PoolCancelled},
	PoolActive:       {PoolFunded, PoolCancelled},
	PoolFunded:       {PoolDistributing, PoolCompleted, PoolCancelled},
	PoolDistributing: {PoolCompleted, PoolCancelled},
}

// Valid reports whether s is a known pool status.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolDraft, PoolSeeking, PoolActive, PoolFunded, PoolDistributing, PoolCompleted, PoolCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s PoolStatus) Terminal() bool {
	return s == PoolCompleted || s == PoolCancelled
}

// Investable reports whether the status accepts share purchases.
func (s PoolStatus) Investable() bool {
	return s == PoolSeeking || s == PoolActive
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to PoolStatus) bool {
	for _, next := range poolTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Pool is one fundraising vehicle for a property.
type Pool struct {
	PoolID                  uuid.UUID       `gorm:"column:pool_id;type:uuid;primaryKey" json:"pool_id"`
	Name                    string          `gorm:"column:name;not null" json:"name"`
	Slug                    string          `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	TargetAmount            decimal.Decimal `gorm:"column:target_amount;type:decimal(18,2);not null" json:"target_amount"`
	RaisedAmount            decimal.Decimal `gorm:"column:raised_amount;type:decimal(18,2);not null;default:0" json:"raised_amount"`
	MinInvestment           decimal.Decimal `gorm:"column:min_investment;type:decimal(18,2);not null;default:0" json:"min_investment"`
	MaxInvestment           decimal.Decimal `gorm:"column:max_investment;type:decimal(18,2);not null;default:0" json:"max_investment"`
	SharePrice              decimal.Decimal `gorm:"column:share_price;type:decimal(18,2);not null" json:"share_price"`
	TotalShares             int64           `gorm:"column:total_shares;not null" json:"total_shares"`
	AvailableShares         int64           `gorm:"column:available_shares;not null" json:"available_shares"`
	ExpectedReturn          decimal.Decimal `gorm:"column:expected_return;type:decimal(9,4);not null;default:0" json:"expected_return"`
	ManagementFeePercent    decimal.Decimal `gorm:"column:management_fee_percent;type:decimal(9,4);not null;default:0" json:"management_fee_percent"`
	Status                  PoolStatus      `gorm:"column:status;type:varchar(20);not null;default:'draft';index" json:"status"`
	ManagerID               uuid.UUID       `gorm:"column:manager_id;type:uuid;not null;index" json:"manager_id"`
	FundingDeadline         *time.Time      `gorm:"column:funding_deadline" json:"funding_deadline"`
	StartDate               *time.Time      `gorm:"column:start_date" json:"start_date"`
	CancellationRequestedAt *time.Time      `gorm:"column:cancellation_requested_at" json:"cancellation_requested_at,omitempty"`
	CancelledAt             *time.Time      `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason      *string         `gorm:"column:cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt               time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt               time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Pool) TableName() string {
	return "Pools"
}

func (p *Pool) BeforeCreate(tx *gorm.DB) error {
	if p.PoolID == uuid.Nil {
		p.PoolID = uuid.New()
	}
	return nil
}

// ManagedBy reports whether the actor may manage this pool.
func (p *Pool) ManagedBy(actor Actor) bool {
	return actor.IsAdmin() || (actor.UserID != uuid.Nil && actor.UserID == p.ManagerID)
}

// VisibleTo hides drafts from everyone but their manager.
func (p *Pool) VisibleTo(actor Actor) bool {
	return p.Status != PoolDraft || p.ManagedBy(actor)
}

// AcceptsInvestment checks status, cancellation guard and deadline at the given instant.
func (p *Pool) AcceptsInvestment(now time.Time) bool {
	if !p.Status.Investable() || p.CancellationRequestedAt != nil {
		return false
	}
	return p.FundingDeadline == nil || now.Before(*p.FundingDeadline)
}

// PurchaseAmount is shares x share price.
func (p *Pool) PurchaseAmount(shares int64) decimal.Decimal {
	return RoundMoney(p.SharePrice.Mul(decimal.NewFromInt(shares)))
}
