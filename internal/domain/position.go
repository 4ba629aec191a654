package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Position is one investor's stake in one pool.
//
// Shares and AmountInvested hold confirmed capital only. PendingShares and PendingAmount
// hold the reservation of a purchase still waiting for the gateway, which lets a confirmed
// investor top up without touching confirmed totals.
type Position struct {
	PositionID           uuid.UUID       `gorm:"column:position_id;type:uuid;primaryKey" json:"position_id"`
	PoolID               uuid.UUID       `gorm:"column:pool_id;type:uuid;not null;uniqueIndex:idx_position_pool_user" json:"pool_id"`
	UserID               uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_position_pool_user" json:"user_id"`
	Shares               int64           `gorm:"column:shares;not null;default:0" json:"shares"`
	AmountInvested       decimal.Decimal `gorm:"column:amount_invested;type:decimal(18,2);not null;default:0" json:"amount_invested"`
	PendingShares        int64           `gorm:"column:pending_shares;not null;default:0" json:"pending_shares"`
	PendingAmount        decimal.Decimal `gorm:"column:pending_amount;type:decimal(18,2);not null;default:0" json:"pending_amount"`
	SharePriceAtPurchase decimal.Decimal `gorm:"column:share_price_at_purchase;type:decimal(18,2);not null" json:"share_price_at_purchase"`
	ChargeRef            *string         `gorm:"column:charge_ref" json:"charge_ref"`
	PaymentStatus        PaymentStatus   `gorm:"column:payment_status;type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	OwnershipPercent     decimal.Decimal `gorm:"column:ownership_percent;type:decimal(12,8);not null;default:0" json:"ownership_percent"`
	TotalDistributed     decimal.Decimal `gorm:"column:total_distributed;type:decimal(18,2);not null;default:0" json:"total_distributed"`
	AgreementSigned      bool            `gorm:"column:agreement_signed;not null;default:false" json:"agreement_signed"`
	AgreementSignedAt    *time.Time      `gorm:"column:agreement_signed_at" json:"agreement_signed_at"`
	ConfirmedAt          *time.Time      `gorm:"column:confirmed_at" json:"confirmed_at"`
	CreatedAt            time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt            time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Position) TableName() string {
	return "PoolInvestors"
}

func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.PositionID == uuid.Nil {
		p.PositionID = uuid.New()
	}
	return nil
}

// Open reports whether the position holds confirmed shares or a live reservation.
func (p *Position) Open() bool {
	return p.PaymentStatus == PaymentPending || p.PaymentStatus == PaymentConfirmed
}

// HeldShares is confirmed plus reserved shares, the amount taken out of the pool's counter.
func (p *Position) HeldShares() int64 {
	return p.Shares + p.PendingShares
}
