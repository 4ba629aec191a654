package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChargeStatus string

const (
	// ChargeReserved: shares are held, the gateway charge is not created yet.
	ChargeReserved  ChargeStatus = "reserved"
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	ChargeCanceled  ChargeStatus = "canceled"
	ChargeExpired   ChargeStatus = "expired"
	ChargeRefunded  ChargeStatus = "refunded"
)

// Holding reports whether the charge still holds a share reservation.
func (s ChargeStatus) Holding() bool {
	return s == ChargeReserved || s == ChargePending
}

// Released reports whether the reservation was given back without capital arriving.
func (s ChargeStatus) Released() bool {
	return s == ChargeFailed || s == ChargeCanceled || s == ChargeExpired
}

// Charge is one purchase request against the payment gateway. It anchors webhook
// correlation: gateway events are matched by ChargeID metadata, then by ChargeRef.
type Charge struct {
	ChargeID      uuid.UUID       `gorm:"column:charge_id;type:uuid;primaryKey" json:"charge_id"`
	ChargeRef     *string         `gorm:"column:charge_ref;uniqueIndex" json:"charge_ref"`
	PoolID        uuid.UUID       `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	PositionID    uuid.UUID       `gorm:"column:position_id;type:uuid;not null;index" json:"position_id"`
	UserID        uuid.UUID       `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Shares        int64           `gorm:"column:shares;not null" json:"shares"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(18,2);not null" json:"amount"`
	AmountCents   int64           `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency      string          `gorm:"column:currency;not null" json:"currency"`
	PaymentMethod *string         `gorm:"column:payment_method" json:"payment_method"`
	Status        ChargeStatus    `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	ReservedUntil time.Time       `gorm:"column:reserved_until;not null;index" json:"reserved_until"`
	RefundRef     *string         `gorm:"column:refund_ref" json:"refund_ref"`
	FailureReason *string         `gorm:"column:failure_reason" json:"failure_reason"`
	LastEventID   *string         `gorm:"column:last_event_id" json:"last_event_id"`
	Metadata      datatypes.JSON  `gorm:"column:metadata" json:"metadata"`
	LastEvent     datatypes.JSON  `gorm:"column:last_event" json:"-"`
	CreatedAt     time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Charge) TableName() string {
	return "PoolCharges"
}

func (c *Charge) BeforeCreate(tx *gorm.DB) error {
	if c.ChargeID == uuid.Nil {
		c.ChargeID = uuid.New()
	}
	return nil
}

// Ref returns the gateway reference or "" when the charge was never created remotely.
func (c *Charge) Ref() string {
	if c.ChargeRef == nil {
		return ""
	}
	return *c.ChargeRef
}
