// Package bootstrap builds the HTTP app for serverless hosts, which import it instead of internal packages.
package bootstrap

import (
	"coinvest-backend/internal/config"
	"coinvest-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates the Fiber app. Serverless hosts have no long-running process, so expired
// reservations must be released by `coinvest sweep` on a cron.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	zerolog.DefaultContextLogger = &log.Logger
	svc, err := router.NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return router.CreateApp(cfg, svc), nil
}
