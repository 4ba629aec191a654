package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DistributionType string

const (
	DistributionIncome        DistributionType = "income"
	DistributionCapitalReturn DistributionType = "capital_return"
	DistributionSaleProceeds  DistributionType = "sale_proceeds"
	DistributionOther         DistributionType = "other"
)

func (t DistributionType) Valid() bool {
	switch t {
	case DistributionIncome, DistributionCapitalReturn, DistributionSaleProceeds, DistributionOther:
		return true
	}
	return false
}

type DistributionStatus string

const (
	DistributionPending DistributionStatus = "pending"
	// DistributionProcessing marks a gateway transfer in flight.
	DistributionProcessing DistributionStatus = "processing"
	DistributionCompleted  DistributionStatus = "completed"
)

// Distribution is one payout to one investor position, part of a batch. Never deleted.
type Distribution struct {
	DistributionID      uuid.UUID          `gorm:"column:distribution_id;type:uuid;primaryKey" json:"distribution_id"`
	BatchID             uuid.UUID          `gorm:"column:batch_id;type:uuid;not null;index" json:"batch_id"`
	PoolID              uuid.UUID          `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	PositionID          uuid.UUID          `gorm:"column:position_id;type:uuid;not null;index" json:"position_id"`
	UserID              uuid.UUID          `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Type                DistributionType   `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Period              string             `gorm:"column:period;not null" json:"period"`
	OwnershipPercent    decimal.Decimal    `gorm:"column:ownership_percent;type:decimal(12,8);not null" json:"ownership_percent"`
	GrossAmount         decimal.Decimal    `gorm:"column:gross_amount;type:decimal(18,2);not null" json:"gross_amount"`
	Fees                decimal.Decimal    `gorm:"column:fees;type:decimal(18,2);not null;default:0" json:"fees"`
	Taxes               decimal.Decimal    `gorm:"column:taxes;type:decimal(18,2);not null;default:0" json:"taxes"`
	NetAmount           decimal.Decimal    `gorm:"column:net_amount;type:decimal(18,2);not null" json:"net_amount"`
	Status              DistributionStatus `gorm:"column:status;type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod       *string            `gorm:"column:payment_method" json:"payment_method"`
	TransferRef         *string            `gorm:"column:transfer_ref" json:"transfer_ref"`
	TransferConfirmedAt *time.Time         `gorm:"column:transfer_confirmed_at" json:"transfer_confirmed_at"`
	PaidAt              *time.Time         `gorm:"column:paid_at" json:"paid_at"`
	Notes               *string            `gorm:"column:notes" json:"notes"`
	CreatedAt           time.Time          `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt           time.Time          `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Distribution) TableName() string {
	return "PoolDistributions"
}

func (d *Distribution) BeforeCreate(tx *gorm.DB) error {
	if d.DistributionID == uuid.Nil {
		d.DistributionID = uuid.New()
	}
	return nil
}
