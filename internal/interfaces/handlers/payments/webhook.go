package payments

import (
	"context"
	"errors"

	distsvc "coinvest-backend/internal/application/distributions"
	poolsvc "coinvest-backend/internal/application/pools"
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/cache"
	"coinvest-backend/internal/infrastructure/gateway"
	"coinvest-backend/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// EventParser verifies a webhook delivery and maps it to a gateway event.
type EventParser interface {
	ParseEvent(payload []byte, sigHeader string) (*domain.GatewayEvent, error)
}

type WebhookHandler struct {
	Parser        EventParser
	Pools         *poolsvc.Service
	Distributions *distsvc.Service
	Events        *cache.EventStore
}

// HandleWebhook POST /api/v1/payments/webhook. Raw body, signature verification, then dispatch.
//
// Business rejections (unknown charge, event no longer applicable) are acknowledged so the
// gateway stops redelivering; infrastructure and gateway failures answer 500 so it retries.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	if len(rawBody) == 0 {
		log.Ctx(c.UserContext()).Warn().Msg("webhook received empty body")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}

	ev, err := wh.Parser.ParseEvent(rawBody, c.Get("Stripe-Signature"))
	if errors.Is(err, gateway.ErrUnhandledEvent) {
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return c.JSON(fiber.Map{"received": true})
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		log.Ctx(c.UserContext()).Warn().Err(err).Bool("has_sig", c.Get("Stripe-Signature") != "").Msg("webhook verification failed")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: " + err.Error())
	}

	ctx := c.UserContext()
	logger := log.Ctx(ctx).With().Str("event_id", ev.ID).Str("type", string(ev.Type)).Logger()

	seen, err := wh.Events.IsProcessed(ctx, ev.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("event dedupe lookup failed; processing anyway")
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	outcome, err := wh.dispatch(ctx, ev)
	if err != nil {
		switch domain.CodeOf(err) {
		case domain.CodeNotFound, domain.CodeInvalidOperation:
			logger.Warn().Err(err).Msg("webhook event not applied")
			outcome = "skipped"
		default:
			metrics.WebhookEvents.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Msg("webhook event failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"received": false})
		}
	}

	if _, err := wh.Events.MarkProcessed(ctx, ev.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to record processed event")
	}
	metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	return c.JSON(fiber.Map{"received": true, "outcome": outcome})
}

func (wh *WebhookHandler) dispatch(ctx context.Context, ev *domain.GatewayEvent) (string, error) {
	switch ev.Type {
	case domain.EventChargeSucceeded, domain.EventChargeFailed, domain.EventChargeCanceled:
		res, err := wh.Pools.HandleChargeEvent(ctx, ev)
		if err != nil {
			return "", err
		}
		return res.Outcome, nil
	case domain.EventTransferCreated:
		res, err := wh.Distributions.HandleTransferEvent(ctx, ev)
		if err != nil {
			return "", err
		}
		return res.Outcome, nil
	}
	return "ignored", nil
}
