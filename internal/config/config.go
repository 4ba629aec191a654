package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBase       string // optional, points the client at stripe-mock
	Currency            string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string
	LogLevel            string

	ReservationTTL    time.Duration // how long an unpaid purchase holds its shares
	SweepSchedule     string        // cron spec for the reservation sweeper
	PayoutConcurrency int
	RefundConcurrency int
	PoolCacheTTL      time.Duration
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("RESERVATION_TTL", "30m")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("PAYOUT_CONCURRENCY", 4)
	viper.SetDefault("REFUND_CONCURRENCY", 4)
	viper.SetDefault("POOL_CACHE_TTL", "30s")
	viper.SetDefault("LOG_LEVEL", "info")

	env := viper.GetString("NODE_ENV")
	if env == "" {
		env = viper.GetString("APP_ENV")
	}
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeAPIBase:       viper.GetString("STRIPE_API_BASE"),
		Currency:            strings.ToLower(viper.GetString("CURRENCY")),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		ReservationTTL:      positiveDuration(viper.GetDuration("RESERVATION_TTL"), 30*time.Minute),
		SweepSchedule:       viper.GetString("SWEEP_SCHEDULE"),
		PayoutConcurrency:   positiveInt(viper.GetInt("PAYOUT_CONCURRENCY"), 4),
		RefundConcurrency:   positiveInt(viper.GetInt("REFUND_CONCURRENCY"), 4),
		PoolCacheTTL:        viper.GetDuration("POOL_CACHE_TTL"),
	}, nil
}

func positiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func positiveInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
