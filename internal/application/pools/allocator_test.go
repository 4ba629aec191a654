package pools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/gateway/gatewaytest"
	"coinvest-backend/internal/pkg/optional"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchase_ReferenceScenario(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	a, b := investor(), investor()

	resA := f.buyConfirmed(t, a, pool.PoolID, 60)
	assert.Equal(t, domain.PaymentConfirmed, f.position(t, pool.PoolID, a.UserID).PaymentStatus)
	assertDec(t, "100", f.position(t, pool.PoolID, a.UserID).OwnershipPercent)
	assertDec(t, "60000", resA.Charge.Amount)
	assert.Equal(t, int64(6000000), resA.Charge.AmountCents)

	f.buyConfirmed(t, b, pool.PoolID, 40)

	p := f.pool(t, pool.PoolID)
	assert.Equal(t, int64(0), p.AvailableShares)
	assertDec(t, "100000", p.RaisedAmount)
	assert.Equal(t, domain.PoolFunded, p.Status)
	assertDec(t, "60", f.position(t, pool.PoolID, a.UserID).OwnershipPercent)
	assertDec(t, "40", f.position(t, pool.PoolID, b.UserID).OwnershipPercent)
	f.assertLedger(t, pool.PoolID)

	// Charges carry correlation metadata.
	require.Len(t, f.gw.Charges, 2)
	assert.Equal(t, pool.PoolID.String(), f.gw.Charges[0].Metadata[domain.MetaPoolID])
	assert.Equal(t, "60", f.gw.Charges[0].Metadata[domain.MetaShareCount])
	assert.Equal(t, "usd", f.gw.Charges[0].Currency)
}

func TestPurchase_ReservesBeforePayment(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()

	res := f.buy(t, a, pool.PoolID, 25)
	assert.Equal(t, domain.ChargePending, res.Charge.Status)
	assert.Equal(t, "pi_1", res.Charge.Ref())
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.True(t, f.clock.Now().Add(30*time.Minute).Equal(res.Charge.ReservedUntil))

	pos := f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, domain.PaymentPending, pos.PaymentStatus)
	assert.Equal(t, int64(0), pos.Shares)
	assert.Equal(t, int64(25), pos.PendingShares)
	assertDec(t, "25000", pos.PendingAmount)

	p := f.pool(t, pool.PoolID)
	assert.Equal(t, int64(75), p.AvailableShares)
	assertDec(t, "0", p.RaisedAmount)
	f.assertLedger(t, pool.PoolID)
}

func TestPurchase_Rejections(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	past := f.clock.Now().Add(-time.Hour)

	draft, err := f.svc.CreatePool(ctx, f.manager, CreatePoolCommand{
		Name: "Draft Pool", TargetAmount: dec("1000"), SharePrice: dec("10"), TotalShares: 100,
	})
	require.NoError(t, err)
	open := f.openPool(t, func(c *CreatePoolCommand) { c.MaxInvestment = dec("30000") })
	expired := f.openPool(t, func(c *CreatePoolCommand) { c.FundingDeadline = &past })

	cases := []struct {
		name   string
		pool   *domain.Pool
		shares int64
		code   domain.ErrorCode
	}{
		{"zero shares", open, 0, domain.CodeInvalidOperation},
		{"draft hidden from investors", draft, 1, domain.CodeNotFound},
		{"more than available", open, 101, domain.CodeInvalidOperation},
		{"above max investment", open, 31, domain.CodeInvalidOperation},
		{"deadline passed", expired, 1, domain.CodeInvalidOperation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PurchaseShares(ctx, investor(), PurchaseCommand{PoolID: tc.pool.PoolID, Shares: tc.shares})
			require.Error(t, err)
			assert.Equal(t, tc.code, domain.CodeOf(err))
		})
	}

	t.Run("below min investment", func(t *testing.T) {
		p := f.openPool(t, func(c *CreatePoolCommand) {
			c.SharePrice = dec("100")
			c.MinInvestment = dec("500")
		})
		_, err := f.svc.PurchaseShares(ctx, investor(), PurchaseCommand{PoolID: p.PoolID, Shares: 4})
		assert.True(t, domain.HasCode(err, domain.CodeInvalidOperation))
		f.buy(t, investor(), p.PoolID, 5)
	})

	assert.Equal(t, int64(100), f.pool(t, open.PoolID).AvailableShares)
}

func TestPurchase_MaxInvestmentIsCumulative(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t, func(c *CreatePoolCommand) { c.MaxInvestment = dec("30000") })
	a := investor()

	f.buyConfirmed(t, a, pool.PoolID, 20)
	_, err := f.svc.PurchaseShares(context.Background(), a, PurchaseCommand{PoolID: pool.PoolID, Shares: 11})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidOperation))

	f.buyConfirmed(t, a, pool.PoolID, 10)
	pos := f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, int64(30), pos.Shares)
	assertDec(t, "30000", pos.AmountInvested)
	f.assertLedger(t, pool.PoolID)
}

func TestPurchase_TopUpKeepsConfirmedTotals(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()

	f.buyConfirmed(t, a, pool.PoolID, 20)
	res := f.buy(t, a, pool.PoolID, 10)

	pos := f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, domain.PaymentConfirmed, pos.PaymentStatus)
	assert.Equal(t, int64(20), pos.Shares)
	assert.Equal(t, int64(10), pos.PendingShares)
	assertDec(t, "20000", f.pool(t, pool.PoolID).RaisedAmount)

	_, err := f.svc.PurchaseShares(ctx, a, PurchaseCommand{PoolID: pool.PoolID, Shares: 1})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidOperation), "second purchase while one awaits payment")

	f.succeed(t, res.Charge)
	pos = f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, int64(30), pos.Shares)
	assert.Equal(t, int64(0), pos.PendingShares)
	assertDec(t, "100", pos.OwnershipPercent)
	f.assertLedger(t, pool.PoolID)
}

func TestPurchase_NoOversellUnderConcurrency(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t, func(c *CreatePoolCommand) {
		c.TotalShares = 10
		c.MinInvestment = dec("0")
	})

	const buyers = 8
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.PurchaseShares(context.Background(), investor(), PurchaseCommand{PoolID: pool.PoolID, Shares: 3})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, domain.HasCode(err, domain.CodeInvalidOperation), "unexpected error: %v", err)
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, int64(1), f.pool(t, pool.PoolID).AvailableShares)
	f.assertLedger(t, pool.PoolID)
}

func TestPurchase_GatewayFailureReleasesReservation(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()
	f.gw.CreateErr = errors.New("card_declined")

	_, err := f.svc.PurchaseShares(context.Background(), a, PurchaseCommand{PoolID: pool.PoolID, Shares: 10})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodePaymentError))

	assert.Equal(t, int64(100), f.pool(t, pool.PoolID).AvailableShares)
	pos := f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, domain.PaymentFailed, pos.PaymentStatus)
	assert.Equal(t, int64(0), pos.PendingShares)
	f.assertLedger(t, pool.PoolID)

	// The investor can try again once the gateway recovers.
	f.gw.CreateErr = nil
	f.buyConfirmed(t, a, pool.PoolID, 10)
	assert.Equal(t, domain.PaymentConfirmed, f.position(t, pool.PoolID, a.UserID).PaymentStatus)
	f.assertLedger(t, pool.PoolID)
}

func TestPurchase_ConfirmFailureCancelsCharge(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	f.gw.ConfirmErr = errors.New("authentication_required")

	_, err := f.svc.PurchaseShares(context.Background(), investor(), PurchaseCommand{
		PoolID: pool.PoolID, Shares: 5, PaymentMethod: optional.Some("pm_card_visa"),
	})
	assert.True(t, domain.HasCode(err, domain.CodePaymentError))
	assert.Equal(t, []string{"pi_1"}, f.gw.Cancels)
	assert.Equal(t, int64(100), f.pool(t, pool.PoolID).AvailableShares)
}

func TestChargeEvent_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	pool := f.openPool(t)
	res := f.buy(t, investor(), pool.PoolID, 30)

	ev := gatewaytest.ChargeEvent("evt_1", domain.EventChargeSucceeded, res.Charge)
	first, err := f.svc.HandleChargeEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, first.Outcome)

	second, err := f.svc.HandleChargeEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	// A failure arriving after success changes nothing.
	late, err := f.svc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_2", domain.EventChargeFailed, res.Charge))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, late.Outcome)

	p := f.pool(t, pool.PoolID)
	assertDec(t, "30000", p.RaisedAmount)
	assert.Equal(t, int64(70), p.AvailableShares)
	f.assertLedger(t, pool.PoolID)
}

func TestChargeEvent_MatchesByRefWithoutMetadata(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	res := f.buy(t, investor(), pool.PoolID, 30)

	ev := gatewaytest.ChargeEvent("evt_1", domain.EventChargeSucceeded, res.Charge)
	ev.Metadata = nil
	out, err := f.svc.HandleChargeEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, res.Charge.ChargeID, out.ChargeID)
	assert.Equal(t, OutcomeConfirmed, out.Outcome)
}

func TestChargeEvent_UnknownCharge(t *testing.T) {
	f := setupPools(t)
	_, err := f.svc.HandleChargeEvent(context.Background(), &domain.GatewayEvent{
		ID: "evt_x", Type: domain.EventChargeSucceeded, ObjectRef: "pi_unknown",
	})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestChargeEvent_FailureReleasesReservation(t *testing.T) {
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()
	res := f.buy(t, a, pool.PoolID, 40)

	ev := gatewaytest.ChargeEvent("evt_fail", domain.EventChargeFailed, res.Charge)
	ev.FailureReason = "insufficient_funds"
	out, err := f.svc.HandleChargeEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, out.Outcome)

	assert.Equal(t, int64(100), f.pool(t, pool.PoolID).AvailableShares)
	assert.Equal(t, domain.PaymentFailed, f.position(t, pool.PoolID, a.UserID).PaymentStatus)
	ch, err := f.svc.Ledger.Read(context.Background()).GetCharge(res.Charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeFailed, ch.Status)
	require.NotNil(t, ch.FailureReason)
	assert.Equal(t, "insufficient_funds", *ch.FailureReason)
	assert.Equal(t, "evt_fail", *ch.LastEventID)
	f.assertLedger(t, pool.PoolID)
}

func TestChargeEvent_LateSuccessRetakesShares(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()
	res := f.buy(t, a, pool.PoolID, 40)

	_, err := f.svc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_1", domain.EventChargeCanceled, res.Charge))
	require.NoError(t, err)

	out, err := f.svc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_2", domain.EventChargeSucceeded, res.Charge))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReReserved, out.Outcome)

	pos := f.position(t, pool.PoolID, a.UserID)
	assert.Equal(t, domain.PaymentConfirmed, pos.PaymentStatus)
	assert.Equal(t, int64(40), pos.Shares)
	assert.Equal(t, int64(60), f.pool(t, pool.PoolID).AvailableShares)
	assert.Zero(t, f.gw.RefundCount())
	f.assertLedger(t, pool.PoolID)
}

func TestChargeEvent_LateSuccessRefundedWhenSoldOut(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	pool := f.openPool(t)
	a := investor()
	res := f.buy(t, a, pool.PoolID, 40)
	_, err := f.svc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_1", domain.EventChargeFailed, res.Charge))
	require.NoError(t, err)

	f.buyConfirmed(t, investor(), pool.PoolID, 100)
	require.Equal(t, domain.PoolFunded, f.pool(t, pool.PoolID).Status)

	out, err := f.svc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_2", domain.EventChargeSucceeded, res.Charge))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, out.Outcome)

	require.Equal(t, 1, f.gw.RefundCount())
	assert.Equal(t, res.Charge.Ref(), f.gw.Refunds[0].ChargeRef)
	assert.Equal(t, "refund-"+res.Charge.ChargeID.String(), f.gw.Refunds[0].IdempotencyKey)
	ch, err := f.svc.Ledger.Read(ctx).GetCharge(res.Charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeRefunded, ch.Status)
	assert.Equal(t, domain.PaymentFailed, f.position(t, pool.PoolID, a.UserID).PaymentStatus)
	f.assertLedger(t, pool.PoolID)
}

func TestExpireReservations(t *testing.T) {
	ctx := context.Background()
	f := setupPools(t)
	pool := f.openPool(t)
	a, b := investor(), investor()
	stale := f.buy(t, a, pool.PoolID, 30)

	f.clock.Advance(20 * time.Minute)
	fresh := f.buy(t, b, pool.PoolID, 20)

	n, err := f.svc.ExpireReservations(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(15 * time.Minute)
	job := &SweepJob{Service: f.svc, Limit: 10}
	assert.Equal(t, "reservation-sweeper", job.Name())
	require.NoError(t, job.Run(ctx))

	ch, err := f.svc.Ledger.Read(ctx).GetCharge(stale.Charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeExpired, ch.Status)
	assert.Equal(t, []string{stale.Charge.Ref()}, f.gw.Cancels)
	assert.Equal(t, domain.PaymentFailed, f.position(t, pool.PoolID, a.UserID).PaymentStatus)
	assert.Equal(t, domain.PaymentPending, f.position(t, pool.PoolID, b.UserID).PaymentStatus)
	assert.Equal(t, int64(80), f.pool(t, pool.PoolID).AvailableShares)
	f.assertLedger(t, pool.PoolID)

	// A gateway that refuses to cancel leaves the reservation for the next run.
	f.clock.Advance(time.Hour)
	f.gw.CancelErr = errors.New("gateway unavailable")
	n, err = f.svc.ExpireReservations(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(80), f.pool(t, pool.PoolID).AvailableShares)

	f.gw.CancelErr = nil
	n, err = f.svc.ExpireReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ch, err = f.svc.Ledger.Read(ctx).GetCharge(fresh.Charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeExpired, ch.Status)
	assert.Equal(t, int64(100), f.pool(t, pool.PoolID).AvailableShares)
	f.assertLedger(t, pool.PoolID)
}
