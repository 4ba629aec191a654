package middleware

import (
	"encoding/json"
	"strings"
	"time"

	"coinvest-backend/internal/constants"
	"coinvest-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionConfig for the Redis-backed session written by the identity service.
type SessionConfig struct {
	Secret            string
	AllowCrossSiteDev bool
	IsProduction      bool
}

const (
	SessionCookieName  = "coinvest.sid"
	SessionRedisPrefix = "session:"
	sessionMaxAge      = 24 * time.Hour
)

// SessionUser is the shape stored in the session under "user".
type SessionUser struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type sessionData struct {
	User *SessionUser `json:"user"`
}

// Session loads the caller from Redis and stores it as the request actor. Sessions are
// created and destroyed elsewhere; this service only reads them.
func Session(cfg SessionConfig, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookieName)
		// Signed cookies look like "s:id.signature"
		if strings.HasPrefix(sessionID, "s:") {
			sessionID = strings.SplitN(sessionID[2:], ".", 2)[0]
		}
		if sessionID == "" || rdb == nil {
			return c.Next()
		}

		b, err := rdb.Get(c.UserContext(), SessionRedisPrefix+sessionID).Bytes()
		if err != nil {
			if err != redis.Nil {
				log.Ctx(c.UserContext()).Warn().Err(err).Msg("session lookup failed")
			}
			return c.Next()
		}
		var data sessionData
		if err := json.Unmarshal(b, &data); err != nil || data.User == nil {
			return c.Next()
		}
		id, err := uuid.Parse(data.User.UserID)
		if err != nil || !constants.IsValidRole(data.User.Role) {
			return c.Next()
		}
		SetActor(c, domain.Actor{UserID: id, Role: data.User.Role})
		return c.Next()
	}
}

// SessionCookieConfig returns the cookie options the identity service issues.
func SessionCookieConfig(cfg SessionConfig) fiber.Cookie {
	sameSite := "Lax"
	if cfg.AllowCrossSiteDev {
		sameSite = "None"
	}
	return fiber.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   cfg.IsProduction && cfg.AllowCrossSiteDev,
		SameSite: sameSite,
	}
}
