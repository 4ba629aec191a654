package distributions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	distsvc "coinvest-backend/internal/application/distributions"
	"coinvest-backend/internal/application/pools"
	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/database"
	"coinvest-backend/internal/infrastructure/gateway/gatewaytest"
	"coinvest-backend/internal/infrastructure/ledger"
	"coinvest-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	app     *fiber.App
	gw      *gatewaytest.Fake
	manager domain.Actor
	a, b    domain.Actor
	poolID  uuid.UUID
}

func setupDistributionsTest(t *testing.T) *harness {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	store := ledger.New(db)
	gw := gatewaytest.New()
	clock := func() time.Time { return time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC) }
	poolSvc := &pools.Service{Ledger: store, Gateway: gw, Now: clock, Currency: "usd"}

	h := &harness{
		gw:      gw,
		manager: domain.Actor{UserID: uuid.New(), Role: constants.Manager},
		a:       domain.Actor{UserID: uuid.New(), Role: constants.Investor},
		b:       domain.Actor{UserID: uuid.New(), Role: constants.Investor},
	}
	ctx := context.Background()
	p, err := poolSvc.CreatePool(ctx, h.manager, pools.CreatePoolCommand{
		Name: "Cedar Row Townhomes", TargetAmount: decimal.NewFromInt(100000), MinInvestment: decimal.NewFromInt(1000),
		SharePrice: decimal.NewFromInt(1000), TotalShares: 100,
	})
	require.NoError(t, err)
	_, err = poolSvc.Transition(ctx, h.manager, p.PoolID, domain.PoolSeeking)
	require.NoError(t, err)
	for _, buy := range []struct {
		actor  domain.Actor
		shares int64
	}{{h.a, 60}, {h.b, 40}} {
		res, err := poolSvc.PurchaseShares(ctx, buy.actor, pools.PurchaseCommand{PoolID: p.PoolID, Shares: buy.shares})
		require.NoError(t, err)
		_, err = poolSvc.HandleChargeEvent(ctx, gatewaytest.ChargeEvent("evt_"+res.Charge.ChargeID.String(), domain.EventChargeSucceeded, res.Charge))
		require.NoError(t, err)
	}
	h.poolID = p.PoolID

	handlers := &Handlers{Service: &distsvc.Service{Ledger: store, Gateway: gw, Now: clock, Currency: "usd"}}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if id, err := uuid.Parse(c.Get("X-User-Id")); err == nil {
			middleware.SetActor(c, domain.Actor{UserID: id, Role: c.Get("X-Role")})
		}
		return c.Next()
	})
	api := app.Group("/api/v1", middleware.RequireAuth())
	api.Post("/pools/:pool_id/distributions", middleware.AuthorizePermission(constants.IssueDistributions), handlers.CreateBatch)
	api.Get("/distributions", handlers.ListDistributions)
	api.Get("/distributions/:distribution_id", handlers.GetDistribution)
	api.Post("/distributions/:distribution_id/payout", middleware.AuthorizePermission(constants.PayoutDistributions), handlers.Payout)
	api.Post("/distribution-batches/:batch_id/payout", middleware.AuthorizePermission(constants.PayoutDistributions), handlers.PayoutBatch)
	h.app = app
	return h
}

func (h *harness) do(t *testing.T, as domain.Actor, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", as.UserID.String())
	req.Header.Set("X-Role", as.Role)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func assertDec(t *testing.T, want string, got interface{}) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "expected decimal string, got %T", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

// createBatch issues the 10000 gross / 500 fees batch and returns it keyed by investor.
func (h *harness) createBatch(t *testing.T) (string, map[string]map[string]interface{}) {
	t.Helper()
	status, out := h.do(t, h.manager, "POST", "/api/v1/pools/"+h.poolID.String()+"/distributions", map[string]interface{}{
		"type":         "income",
		"period":       "2025-Q2",
		"gross_amount": "10000",
		"fees":         "500",
	})
	require.Equal(t, fiber.StatusCreated, status, out)
	batch := out["data"].(map[string]interface{})
	byUser := map[string]map[string]interface{}{}
	for _, row := range batch["distributions"].([]interface{}) {
		m := row.(map[string]interface{})
		byUser[m["user_id"].(string)] = m
	}
	return batch["batch_id"].(string), byUser
}

func TestCreateBatch(t *testing.T) {
	h := setupDistributionsTest(t)
	_, rows := h.createBatch(t)

	require.Len(t, rows, 2)
	a := rows[h.a.UserID.String()]
	assertDec(t, "6000", a["gross_amount"])
	assertDec(t, "300", a["fees"])
	assertDec(t, "5700", a["net_amount"])
	assert.Equal(t, "pending", a["status"])
	assertDec(t, "3800", rows[h.b.UserID.String()]["net_amount"])

	status, out := h.do(t, h.a, "POST", "/api/v1/pools/"+h.poolID.String()+"/distributions", map[string]interface{}{
		"type": "income", "period": "2025-Q2", "gross_amount": "10",
	})
	assert.Equal(t, fiber.StatusForbidden, status, out)

	status, out = h.do(t, h.manager, "POST", "/api/v1/pools/"+h.poolID.String()+"/distributions", map[string]interface{}{
		"type": "income", "period": "2025-Q2", "gross_amount": "-5",
	})
	assert.Equal(t, fiber.StatusConflict, status, out)
}

func TestPayout_IdempotentAndVisible(t *testing.T) {
	h := setupDistributionsTest(t)
	_, rows := h.createBatch(t)
	id := rows[h.a.UserID.String()]["distribution_id"].(string)

	status, out := h.do(t, h.manager, "POST", "/api/v1/distributions/"+id+"/payout", map[string]string{
		"payment_method": "ach",
		"destination":    "acct_123",
	})
	require.Equal(t, fiber.StatusOK, status, out)
	d := out["data"].(map[string]interface{})
	assert.Equal(t, "completed", d["status"])
	assert.Equal(t, "tr_3", d["transfer_ref"])
	require.Len(t, h.gw.Transfers, 1)
	assert.Equal(t, int64(570000), h.gw.Transfers[0].AmountCents)

	status, _ = h.do(t, h.manager, "POST", "/api/v1/distributions/"+id+"/payout", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, h.gw.Transfers, 1)

	status, out = h.do(t, h.a, "GET", "/api/v1/distributions/"+id, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "completed", out["data"].(map[string]interface{})["status"])

	status, _ = h.do(t, h.b, "GET", "/api/v1/distributions/"+id, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, out = h.do(t, h.b, "GET", "/api/v1/distributions", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, out = h.do(t, h.manager, "GET", "/api/v1/distributions?pool_id="+h.poolID.String()+"&status=pending", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, _ = h.do(t, h.manager, "GET", "/api/v1/distributions?pool_id=nope", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestPayout_TransferFailure(t *testing.T) {
	h := setupDistributionsTest(t)
	_, rows := h.createBatch(t)
	id := rows[h.b.UserID.String()]["distribution_id"].(string)

	h.gw.TransferErr = errors.New("account closed")
	status, out := h.do(t, h.manager, "POST", "/api/v1/distributions/"+id+"/payout", map[string]string{"destination": "acct_9"})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "PAYMENT_ERROR", out["error"].(map[string]interface{})["code"])

	status, out = h.do(t, h.b, "GET", "/api/v1/distributions/"+id, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pending", out["data"].(map[string]interface{})["status"])
}

func TestPayoutBatch(t *testing.T) {
	h := setupDistributionsTest(t)
	batchID, rows := h.createBatch(t)
	id := rows[h.a.UserID.String()]["distribution_id"].(string)
	status, _ := h.do(t, h.manager, "POST", "/api/v1/distributions/"+id+"/payout", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, out := h.do(t, h.manager, "POST", "/api/v1/distribution-batches/"+batchID+"/payout", map[string]string{"payment_method": "check"})
	require.Equal(t, fiber.StatusOK, status, out)
	res := out["data"].(map[string]interface{})
	assert.Equal(t, float64(1), res["paid"])
	assert.Equal(t, float64(1), res["skipped"])
	assert.Equal(t, float64(0), res["failed"])

	status, _ = h.do(t, h.manager, "POST", "/api/v1/distribution-batches/"+uuid.NewString()+"/payout", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}
