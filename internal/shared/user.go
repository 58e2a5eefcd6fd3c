package shared

// RoleAdmin short-circuits the registry-local permission check.
const RoleAdmin = "admin"

// User describes the authenticated actor as asserted by the fronting
// auth proxy. Session issuance and account storage live outside this
// service; only the resolved identity crosses the boundary.
type User struct {
	ID     string
	Roles  []string
	Groups []string
	// Permissions holds explicit grants attached directly to the user.
	// Only the registry's basic check consults these; the full policy
	// evaluator derives everything from roles and groups.
	Permissions []string
}

// HasRole reports whether the user carries the named role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
