package middleware

import (
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const actorLocal = "actor"

// RequireAuth rejects requests without a session actor.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := ActorFrom(c); !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// SetActor attaches the authenticated caller to the request.
func SetActor(c *fiber.Ctx, actor domain.Actor) {
	c.Locals(actorLocal, actor)
}

// ActorFrom returns the authenticated caller, if any.
func ActorFrom(c *fiber.Ctx) (domain.Actor, bool) {
	a, ok := c.Locals(actorLocal).(domain.Actor)
	return a, ok
}
