package gateway

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
)

// stripeLogger routes stripe-go's internal logging through zerolog.
type stripeLogger struct {
	l zerolog.Logger
}

func (s stripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Infof(format string, v ...interface{})  { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn().Msgf(format, v...) }
func (s stripeLogger) Errorf(format string, v ...interface{}) { s.l.Error().Msgf(format, v...) }

// Backends returns API backends logging through zerolog. A non-empty baseURL points
// the client at a Stripe-compatible server (stripe-mock, tests).
func Backends(baseURL string) *stripe.Backends {
	cfg := &stripe.BackendConfig{
		LeveledLogger:     stripeLogger{l: log.With().Str("component", "stripe").Logger()},
		MaxNetworkRetries: stripe.Int64(2),
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, &stripe.BackendConfig{LeveledLogger: cfg.LeveledLogger}),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{LeveledLogger: cfg.LeveledLogger}),
	}
}
