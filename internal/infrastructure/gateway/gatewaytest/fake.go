// Package gatewaytest provides an in-memory domain.PaymentGateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"coinvest-backend/internal/domain"
)

// Fake records every call. Set the Err fields to make the matching call fail.
type Fake struct {
	mu  sync.Mutex
	seq int

	CreateErr   error
	ConfirmErr  error
	CancelErr   error
	RefundErr   error
	TransferErr error
	// RefundErrFor fails refunds of specific charge refs only.
	RefundErrFor map[string]error

	Charges   []domain.ChargeRequest
	Confirms  []string
	Cancels   []string
	Refunds   []domain.RefundRequest
	Transfers []domain.TransferRequest

	transferKeys map[string]string
}

func New() *Fake {
	return &Fake{RefundErrFor: map[string]error{}}
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) CreateCharge(_ context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Charges = append(f.Charges, req)
	ref := f.next("pi")
	return &domain.ChargeResult{Ref: ref, ClientSecret: ref + "_secret"}, nil
}

func (f *Fake) ConfirmCharge(_ context.Context, ref, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfirmErr != nil {
		return f.ConfirmErr
	}
	f.Confirms = append(f.Confirms, ref)
	return nil
}

func (f *Fake) CancelCharge(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancels = append(f.Cancels, ref)
	return nil
}

func (f *Fake) Refund(_ context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.RefundErrFor[req.ChargeRef]; err != nil {
		return nil, err
	}
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.Refunds = append(f.Refunds, req)
	return &domain.RefundResult{Ref: f.next("re")}, nil
}

func (f *Fake) Transfer(_ context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	// A repeated idempotency key returns the original transfer, as the gateway does.
	if ref, ok := f.transferKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &domain.TransferResult{Ref: ref}, nil
	}
	if f.transferKeys == nil {
		f.transferKeys = map[string]string{}
	}
	f.Transfers = append(f.Transfers, req)
	ref := f.next("tr")
	f.transferKeys[req.IdempotencyKey] = ref
	return &domain.TransferResult{Ref: ref}, nil
}

// RefundCount returns the number of successful refunds so far.
func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}

// ChargeEvent builds a webhook event for a charge as the gateway would deliver it.
func ChargeEvent(id string, typ domain.GatewayEventType, ch *domain.Charge) *domain.GatewayEvent {
	return &domain.GatewayEvent{
		ID:          id,
		Type:        typ,
		ObjectRef:   ch.Ref(),
		AmountCents: ch.AmountCents,
		Metadata:    domain.ChargeMetadata(ch),
	}
}

var _ domain.PaymentGateway = (*Fake)(nil)
