package domain

import (
	"context"
	"strconv"

	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
)

// Metadata keys attached to every gateway object so webhooks can be correlated
// without extra lookups.
const (
	MetaPoolID         = "poolId"
	MetaUserID         = "userId"
	MetaShareCount     = "shareCount"
	MetaChargeID       = "chargeId"
	MetaDistributionID = "distributionId"
	MetaReason         = "reason"
)

// PaymentGateway is the narrow capability the engine needs from the payment processor.
// Implementations own retries; the engine calls each method once.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ConfirmCharge(ctx context.Context, chargeRef, paymentMethod string) error
	CancelCharge(ctx context.Context, chargeRef string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type ChargeResult struct {
	Ref          string
	ClientSecret string
}

type RefundRequest struct {
	ChargeRef string
	// AmountCents refunds the whole charge when unset.
	AmountCents    optional.Option[int64]
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

type RefundResult struct {
	Ref string
}

type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	Metadata       map[string]string
	IdempotencyKey string
}

type TransferResult struct {
	Ref string
}

type GatewayEventType string

const (
	EventChargeSucceeded GatewayEventType = "charge.succeeded"
	EventChargeFailed    GatewayEventType = "charge.failed"
	EventChargeCanceled  GatewayEventType = "charge.canceled"
	EventTransferCreated GatewayEventType = "transfer.created"
)

// GatewayEvent is an asynchronous outcome delivered by the gateway webhook.
type GatewayEvent struct {
	ID            string
	Type          GatewayEventType
	ObjectRef     string
	AmountCents   int64
	FailureReason string
	Metadata      map[string]string
	Raw           []byte
}

// ChargeMetadata builds the correlation tags for a purchase charge.
func ChargeMetadata(c *Charge) map[string]string {
	return map[string]string{
		MetaPoolID:     c.PoolID.String(),
		MetaUserID:     c.UserID.String(),
		MetaShareCount: strconv.FormatInt(c.Shares, 10),
		MetaChargeID:   c.ChargeID.String(),
	}
}

// MetaUUID parses a uuid tag, returning uuid.Nil when absent or malformed.
func (e GatewayEvent) MetaUUID(key string) uuid.UUID {
	id, err := uuid.Parse(e.Metadata[key])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// MetaShareCount returns the shareCount tag or 0.
func (e GatewayEvent) MetaShareCount() int64 {
	n, err := strconv.ParseInt(e.Metadata[MetaShareCount], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
