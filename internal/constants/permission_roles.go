package constants

// PermissionRoles maps each permission to roles allowed to perform it. Pool-level ownership
// (the manager of that specific pool) is enforced by the services on top of this.
var PermissionRoles = map[string][]string{
	ViewPools:           {Investor, Manager, Admin},
	Invest:              {Investor, Manager, Admin},
	ManagePools:         {Manager, Admin},
	IssueDistributions:  {Manager, Admin},
	PayoutDistributions: {Manager, Admin},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
