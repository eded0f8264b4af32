package tenancy

import (
	"strings"
	"time"
)

// Role is the coarse per-tenant access level carried on a profile.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTherapist Role = "therapist"
	RoleIntern    Role = "intern"
	RolePatient   Role = "patient"
	RolePending   Role = "pending"
)

var validRoles = map[Role]struct{}{
	RoleAdmin:     {},
	RoleTherapist: {},
	RoleIntern:    {},
	RolePatient:   {},
	RolePending:   {},
}

// Organization is the unit of data isolation. Organizations are only ever
// deactivated, never deleted.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile maps one caller identity to exactly one organization and role.
type Profile struct {
	ID             string
	CallerID       string
	OrganizationID string
	Role           Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Context is the per-request authorization result. It is never persisted;
// the resolver constructs one per request and the session scope carries the
// same tenant id down into the store.
type Context struct {
	CallerID  string
	TenantID  string
	Role      Role
	ProfileID string
	// TokenID is the jti of the presented token, kept so the caller can
	// revoke exactly that token.
	TokenID string
}

// normalizeRole lower-cases and validates a role read from either store.
// Unknown values resolve to pending rather than failing: the document store
// is the less constrained producer.
func normalizeRole(raw string) Role {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validRoles[role]; ok {
		return role
	}
	return RolePending
}
