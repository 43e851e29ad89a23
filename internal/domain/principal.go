package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Role is a platform-wide role carried by a principal.
type Role string

const (
	RoleUser          Role = "user"
	RoleModerator     Role = "moderator"
	RoleAdministrator Role = "administrator"
)

// ParseRole parses a role name. Unknown names return false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleModerator:
		return RoleModerator, true
	case RoleAdministrator:
		return RoleAdministrator, true
	}
	return "", false
}

// RoleSet is a set of platform roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether the set contains role.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// Principal is the authenticated identity attached to a request.
// It is supplied by the identity provider and never persisted.
type Principal struct {
	UserID uuid.UUID
	Roles  RoleSet
}

// NewPrincipal creates a Principal.
func NewPrincipal(userID uuid.UUID, roles ...Role) Principal {
	return Principal{UserID: userID, Roles: NewRoleSet(roles...)}
}

// SystemPrincipal is used for cross-component side effects triggered by the
// core itself, such as a moderation sanction.
var SystemPrincipal = Principal{UserID: uuid.Nil, Roles: NewRoleSet(RoleAdministrator)}

// IsStaff reports whether the principal holds a moderator or administrator role.
func (p Principal) IsStaff() bool {
	return p.Roles.Has(RoleModerator) || p.Roles.Has(RoleAdministrator)
}

// IsAdministrator reports whether the principal is a platform administrator.
func (p Principal) IsAdministrator() bool {
	return p.Roles.Has(RoleAdministrator)
}

// IsSystem reports whether this is the core's own principal.
func (p Principal) IsSystem() bool {
	return p.UserID == uuid.Nil && p.IsAdministrator()
}
