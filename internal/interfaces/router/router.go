package router

import (
	"errors"
	"net/http"
	"time"

	distsvc "coinvest-backend/internal/application/distributions"
	poolsvc "coinvest-backend/internal/application/pools"
	"coinvest-backend/internal/config"
	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/infrastructure/cache"
	"coinvest-backend/internal/infrastructure/database"
	"coinvest-backend/internal/infrastructure/gateway"
	"coinvest-backend/internal/infrastructure/ledger"
	disthandler "coinvest-backend/internal/interfaces/handlers/distributions"
	healthhandler "coinvest-backend/internal/interfaces/handlers/health"
	payhandler "coinvest-backend/internal/interfaces/handlers/payments"
	poolhandler "coinvest-backend/internal/interfaces/handlers/pools"
	"coinvest-backend/internal/metrics"
	"coinvest-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const webhookEventTTL = 72 * time.Hour

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Services are the wired engine components shared by the HTTP app and the CLI commands.
type Services struct {
	DB            *gorm.DB
	Rdb           *redis.Client
	Gateway       *gateway.Stripe
	Events        *cache.EventStore
	Pools         *poolsvc.Service
	Distributions *distsvc.Service
}

// NewServices opens the database and Redis and builds the engine services. Redis is
// optional: without it sessions, the pool cache and webhook dedupe are disabled.
func NewServices(cfg *config.Config) (*Services, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not configured")
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	// Embedded databases are local runs and tests; Postgres is migrated by `coinvest migrate`.
	if database.IsSQLite(cfg.DatabaseURL) {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opt)
	}

	gw := gateway.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.Currency, gateway.Backends(cfg.StripeAPIBase))
	store := ledger.New(db)
	poolCache := cache.NewPoolCache(rdb, cfg.PoolCacheTTL)

	return &Services{
		DB:      db,
		Rdb:     rdb,
		Gateway: gw,
		Events:  cache.NewEventStore(rdb, "", webhookEventTTL),
		Pools: &poolsvc.Service{
			Ledger:            store,
			Gateway:           gw,
			Cache:             poolCache,
			Currency:          cfg.Currency,
			ReservationTTL:    cfg.ReservationTTL,
			RefundConcurrency: cfg.RefundConcurrency,
		},
		Distributions: &distsvc.Service{
			Ledger:            store,
			Gateway:           gw,
			Cache:             poolCache,
			Currency:          cfg.Currency,
			PayoutConcurrency: cfg.PayoutConcurrency,
		},
	}, nil
}

// Close releases the database and Redis connections.
func (s *Services) Close() {
	if s.Rdb != nil {
		_ = s.Rdb.Close()
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// CreateApp builds the Fiber app with all global middleware and route registration.
func CreateApp(cfg *config.Config, svc *Services) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.Tracing())
	app.Use(metrics.Middleware())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix:  cfg.FrontendURLEndsWith,
		DevPassword:    cfg.DevPassword,
		AllowLocalhost: cfg.Env != "production",
	}))

	// Webhook is mounted before the session: it authenticates by signature.
	wh := &payhandler.WebhookHandler{
		Parser:        svc.Gateway,
		Pools:         svc.Pools,
		Distributions: svc.Distributions,
		Events:        svc.Events,
	}
	app.Post("/api/v1/payments/webhook", wh.HandleWebhook)

	app.Use(middleware.Session(middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}, svc.Rdb))
	app.Use(middleware.RequestStats(svc.Rdb))
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            svc.Rdb,
		DB:             &gormDBPinger{db: svc.DB},
		Gateway:        svc.Gateway,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/health", hh.Live)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/health/reset", hh.Reset)
	app.Get("/metrics", metrics.Handler())

	ph := &poolhandler.Handlers{Service: svc.Pools}
	dh := &disthandler.Handlers{Service: svc.Distributions}

	api := app.Group("/api/v1", middleware.RequireAuth())

	pg := api.Group("/pools")
	pg.Get("/", middleware.AuthorizePermission(constants.ViewPools), ph.ListPools)
	pg.Post("/", middleware.AuthorizePermission(constants.ManagePools), ph.CreatePool)
	pg.Get("/slug/:slug", middleware.AuthorizePermission(constants.ViewPools), ph.GetPoolBySlug)
	pg.Get("/:pool_id", middleware.AuthorizePermission(constants.ViewPools), ph.GetPool)
	pg.Patch("/:pool_id", middleware.AuthorizePermission(constants.ManagePools), ph.UpdatePool)
	pg.Post("/:pool_id/status", middleware.AuthorizePermission(constants.ManagePools), ph.Transition)
	pg.Post("/:pool_id/recalculate", middleware.AuthorizePermission(constants.ManagePools), ph.Recalculate)
	pg.Post("/:pool_id/cancel", middleware.AuthorizePermission(constants.ManagePools), ph.CancelPool)
	pg.Get("/:pool_id/positions", middleware.AuthorizePermission(constants.ViewPools), ph.ListPositions)
	pg.Post("/:pool_id/purchase", middleware.AuthorizePermission(constants.Invest), ph.PurchaseShares)
	pg.Post("/:pool_id/agreement", middleware.AuthorizePermission(constants.Invest), ph.SignAgreement)
	pg.Post("/:pool_id/distributions", middleware.AuthorizePermission(constants.IssueDistributions), dh.CreateBatch)

	posg := api.Group("/positions")
	posg.Get("/me", ph.ListMyPositions)
	posg.Post("/:position_id/cancel", ph.CancelPosition)

	dg := api.Group("/distributions")
	dg.Get("/", dh.ListDistributions)
	dg.Get("/:distribution_id", dh.GetDistribution)
	dg.Post("/:distribution_id/payout", middleware.AuthorizePermission(constants.PayoutDistributions), dh.Payout)
	api.Post("/distribution-batches/:batch_id/payout", middleware.AuthorizePermission(constants.PayoutDistributions), dh.PayoutBatch)

	return app
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
