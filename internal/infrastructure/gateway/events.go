package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"coinvest-backend/internal/domain"

	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// eventObject covers the fields read from payment_intent, charge and transfer objects.
type eventObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	PaymentIntent    string            `json:"payment_intent"`
	FailureMessage   string            `json:"failure_message"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

var eventTypes = map[string]domain.GatewayEventType{
	"payment_intent.succeeded":      domain.EventChargeSucceeded,
	"payment_intent.payment_failed": domain.EventChargeFailed,
	"payment_intent.canceled":       domain.EventChargeCanceled,
	"charge.succeeded":              domain.EventChargeSucceeded,
	"charge.failed":                 domain.EventChargeFailed,
	"transfer.created":              domain.EventTransferCreated,
}

// ErrUnhandledEvent marks a verified event of a type the engine does not consume.
var ErrUnhandledEvent = errors.New("unhandled event type")

// ParseEvent verifies the Stripe-Signature header and maps the payload to a GatewayEvent.
func (s *Stripe) ParseEvent(payload []byte, sigHeader string) (*domain.GatewayEvent, error) {
	if s.WebhookSecret == "" || sigHeader == "" {
		return nil, errors.New("missing signature or secret")
	}
	if err := webhook.ValidatePayload(payload, sigHeader, s.WebhookSecret); err != nil {
		return nil, err
	}
	return DecodeEvent(payload)
}

// DecodeEvent maps an already verified payload.
func DecodeEvent(payload []byte) (*domain.GatewayEvent, error) {
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	typ, ok := eventTypes[ev.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, ev.Type)
	}
	var obj eventObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return nil, err
	}

	out := &domain.GatewayEvent{
		ID:          ev.ID,
		Type:        typ,
		ObjectRef:   obj.ID,
		AmountCents: obj.Amount,
		Metadata:    obj.Metadata,
		Raw:         payload,
	}
	if obj.AmountReceived > 0 {
		out.AmountCents = obj.AmountReceived
	}
	// Charge objects point back at their PaymentIntent, which is the ref stored on the charge.
	if obj.PaymentIntent != "" {
		out.ObjectRef = obj.PaymentIntent
	}
	switch {
	case obj.LastPaymentError != nil:
		out.FailureReason = obj.LastPaymentError.Message
	case obj.FailureMessage != "":
		out.FailureReason = obj.FailureMessage
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out, nil
}
