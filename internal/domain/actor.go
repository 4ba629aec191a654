package domain

import (
	"coinvest-backend/internal/constants"

	"github.com/google/uuid"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == constants.Admin
}

// System is the actor used by webhooks and background jobs.
var System = Actor{Role: constants.Admin}
