package constants

const (
	Admin    = "admin"
	Manager  = "manager"
	Investor = "investor"
)

// ValidRoles is the set of roles a session may carry.
var ValidRoles = []string{Investor, Manager, Admin}

// IsValidRole returns true if role is one of the allowed values.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
