// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Purchases counts share purchase attempts by outcome (reserved, rejected, payment_error).
	Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_purchases_total",
		Help: "Share purchase attempts by outcome",
	}, []string{"outcome"})

	SharesReserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinvest_shares_reserved_total",
		Help: "Shares reserved by accepted purchases",
	})

	// ChargeEvents counts gateway charge events by type and what the engine did with them.
	ChargeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_charge_events_total",
		Help: "Gateway charge events processed",
	}, []string{"type", "outcome"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_refunds_total",
		Help: "Gateway refunds by outcome",
	}, []string{"outcome"})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinvest_reservations_expired_total",
		Help: "Share reservations released by the sweeper",
	})

	PoolTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_pool_transitions_total",
		Help: "Pool lifecycle transitions",
	}, []string{"to"})

	DistributionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_distributions_created_total",
		Help: "Distribution rows created, by type",
	}, []string{"type"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_payouts_total",
		Help: "Distribution payouts by outcome",
	}, []string{"outcome"})

	// WebhookEvents counts gateway webhook deliveries by how the endpoint answered.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_webhook_events_total",
		Help: "Gateway webhook deliveries",
	}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinvest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Middleware records request count and latency, labelled by route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		path := c.Route().Path
		HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}
