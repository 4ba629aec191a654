package pools

import (
	"context"
	"sync"
	"testing"
	"time"

	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/database"
	"coinvest-backend/internal/infrastructure/gateway/gatewaytest"
	"coinvest-backend/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc     *Service
	gw      *gatewaytest.Fake
	clock   *testClock
	manager domain.Actor
}

func setupPools(t *testing.T) *fixture {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	return newFixture(t, db)
}

func newFixture(t *testing.T, db *gorm.DB) *fixture {
	require.NoError(t, database.AutoMigrate(db))
	gw := gatewaytest.New()
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		svc: &Service{
			Ledger:         ledger.New(db),
			Gateway:        gw,
			Now:            clock.Now,
			Currency:       "usd",
			ReservationTTL: 30 * time.Minute,
		},
		gw:      gw,
		clock:   clock,
		manager: domain.Actor{UserID: uuid.New(), Role: constants.Manager},
	}
}

func investor() domain.Actor {
	return domain.Actor{UserID: uuid.New(), Role: constants.Investor}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// openPool creates the reference pool (100 shares at $1000, min $1000) in seeking.
func (f *fixture) openPool(t *testing.T, mutate ...func(*CreatePoolCommand)) *domain.Pool {
	t.Helper()
	cmd := CreatePoolCommand{
		Name:          "Harbor Lofts " + uuid.NewString()[:6],
		TargetAmount:  dec("100000"),
		MinInvestment: dec("1000"),
		SharePrice:    dec("1000"),
		TotalShares:   100,
	}
	for _, m := range mutate {
		m(&cmd)
	}
	ctx := context.Background()
	p, err := f.svc.CreatePool(ctx, f.manager, cmd)
	require.NoError(t, err)
	p, err = f.svc.Transition(ctx, f.manager, p.PoolID, domain.PoolSeeking)
	require.NoError(t, err)
	return p
}

func (f *fixture) buy(t *testing.T, actor domain.Actor, poolID uuid.UUID, shares int64) *PurchaseResult {
	t.Helper()
	res, err := f.svc.PurchaseShares(context.Background(), actor, PurchaseCommand{PoolID: poolID, Shares: shares})
	require.NoError(t, err)
	return res
}

func (f *fixture) succeed(t *testing.T, ch *domain.Charge) *ChargeEventResult {
	t.Helper()
	res, err := f.svc.HandleChargeEvent(context.Background(),
		gatewaytest.ChargeEvent("evt_ok_"+ch.ChargeID.String(), domain.EventChargeSucceeded, ch))
	require.NoError(t, err)
	return res
}

func (f *fixture) buyConfirmed(t *testing.T, actor domain.Actor, poolID uuid.UUID, shares int64) *PurchaseResult {
	t.Helper()
	res := f.buy(t, actor, poolID, shares)
	f.succeed(t, res.Charge)
	return res
}

func (f *fixture) pool(t *testing.T, id uuid.UUID) *domain.Pool {
	t.Helper()
	p, err := f.svc.Ledger.Read(context.Background()).GetPool(id)
	require.NoError(t, err)
	return p
}

func (f *fixture) position(t *testing.T, poolID, userID uuid.UUID) *domain.Position {
	t.Helper()
	p, err := f.svc.Ledger.Read(context.Background()).GetPosition(poolID, userID)
	require.NoError(t, err)
	return p
}

// assertLedger checks share conservation, raised == confirmed capital, and the ownership sum.
func (f *fixture) assertLedger(t *testing.T, poolID uuid.UUID) {
	t.Helper()
	r := f.svc.Ledger.Read(context.Background())
	p, err := r.GetPool(poolID)
	require.NoError(t, err)
	open, err := r.ListOpenPositions(poolID)
	require.NoError(t, err)

	held := int64(0)
	raised := decimal.Zero
	pct := decimal.Zero
	confirmed := 0
	for _, pos := range open {
		held += pos.Shares + pos.PendingShares
		if pos.PaymentStatus == domain.PaymentConfirmed {
			raised = raised.Add(pos.AmountInvested)
			pct = pct.Add(pos.OwnershipPercent)
			confirmed++
		}
	}
	assert.GreaterOrEqual(t, p.AvailableShares, int64(0))
	assert.Equal(t, p.TotalShares, p.AvailableShares+held, "share conservation")
	assert.True(t, raised.Equal(p.RaisedAmount), "raised %s != confirmed %s", p.RaisedAmount, raised)
	if confirmed > 0 {
		assert.True(t, pct.Sub(dec("100")).Abs().LessThan(dec("0.000001")), "ownership sum %s", pct)
	}
}
