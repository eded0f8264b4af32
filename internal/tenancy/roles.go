package tenancy

import (
	"fmt"

	"salus.clinic/internal/fault"
)

// RequireRole fails with PermissionDenied unless the caller is an admin or
// holds one of the allowed roles. Handlers call this before any privileged
// operation; the session scope still limits what a permitted role can see.
func RequireRole(authz Context, allowed ...Role) error {
	if authz.Role == RoleAdmin {
		return nil
	}
	for _, role := range allowed {
		if authz.Role == role {
			return nil
		}
	}
	return fault.PermissionDenied(fmt.Sprintf("role %s is not permitted for this operation", authz.Role))
}
