// Package gateway adapts the Stripe API to domain.PaymentGateway.
package gateway

import (
	"context"
	"errors"

	"coinvest-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrNotConfigured is returned by every call when no secret key is set.
var ErrNotConfigured = fiber.NewError(fiber.StatusNotImplemented, "Stripe integration pending")

// Stripe implements domain.PaymentGateway with PaymentIntents, Refunds and Transfers.
type Stripe struct {
	api           *client.API
	Currency      string
	WebhookSecret string
}

// NewStripe builds the adapter. backends may be nil to use Stripe's hosted API.
func NewStripe(secretKey, webhookSecret, currency string, backends *stripe.Backends) *Stripe {
	s := &Stripe{Currency: currency, WebhookSecret: webhookSecret}
	if secretKey != "" {
		s.api = client.New(secretKey, backends)
	}
	return s
}

// Configured reports whether a secret key was supplied.
func (s *Stripe) Configured() bool {
	return s.api != nil
}

func (s *Stripe) currency(c string) string {
	if c != "" {
		return c
	}
	if s.Currency != "" {
		return s.Currency
	}
	return string(stripe.CurrencyUSD)
}

func (s *Stripe) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if s.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(s.currency(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return &domain.ChargeResult{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) ConfirmCharge(ctx context.Context, chargeRef, paymentMethod string) error {
	if s.api == nil {
		return ErrNotConfigured
	}
	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(paymentMethod)}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Confirm(chargeRef, params)
	return err
}

// CancelCharge cancels an unsettled PaymentIntent. Stripe rejects cancelling an intent
// that already failed or was canceled; those are treated as done.
func (s *Stripe) CancelCharge(ctx context.Context, chargeRef string) error {
	if s.api == nil {
		return ErrNotConfigured
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Cancel(chargeRef, params)
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		log.Ctx(ctx).Info().Str("charge_ref", chargeRef).Msg("payment intent already settled; cancel skipped")
		return nil
	}
	return err
}

func (s *Stripe) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if s.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount, ok := req.AmountCents.Get(); ok {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata(domain.MetaReason, req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, err
	}
	return &domain.RefundResult{Ref: r.ID}, nil
}

func (s *Stripe) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if s.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(s.currency(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return nil, err
	}
	return &domain.TransferResult{Ref: tr.ID}, nil
}
