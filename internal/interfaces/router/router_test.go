package router

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"coinvest-backend/internal/config"
	"coinvest-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) (*fiber.App, *Services, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := &config.Config{
		Env:                 "test",
		DatabaseURL:         ":memory:",
		RedisURL:            "redis://" + mr.Addr(),
		StripeWebhookSecret: "whsec_test",
		Currency:            "usd",
		HealthAdminKey:      "admin",
		ReservationTTL:      30 * time.Minute,
		PoolCacheTTL:        time.Minute,
	}
	svc, err := NewServices(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Close()
		mr.Close()
	})
	return CreateApp(cfg, svc), svc, mr
}

func login(t *testing.T, mr *miniredis.Miniredis, role string) string {
	t.Helper()
	sid := uuid.NewString()
	b, err := json.Marshal(map[string]interface{}{
		"user": map[string]string{"user_id": uuid.NewString(), "role": role},
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set(middleware.SessionRedisPrefix+sid, string(b)))
	return sid
}

func TestCreateApp_PublicRoutes(t *testing.T) {
	app, _, _ := setupApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))

	resp, err = app.Test(httptest.NewRequest("GET", "/health/json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/payments/webhook", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateApp_SessionGatesAPI(t *testing.T) {
	app, _, mr := setupApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/pools", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/v1/pools", nil)
	req.Header.Set("Cookie", middleware.SessionCookieName+"="+login(t, mr, "investor"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("POST", "/api/v1/pools", nil)
	req.Header.Set("Cookie", middleware.SessionCookieName+"="+login(t, mr, "investor"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	total, err := mr.Get(middleware.KeyReqTotal)
	require.NoError(t, err)
	assert.Equal(t, "3", total)
}

func TestServices_Pools(t *testing.T) {
	_, svc, _ := setupApp(t)
	n, err := svc.Pools.ExpireReservations(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
