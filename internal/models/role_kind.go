package models

import (
	"errors"
	"fmt"
	"strings"
)

// RoleKind identifies which invitation and link tables a redemption targets.
type RoleKind string

const (
	RoleTenant          RoleKind = "tenant"
	RoleServiceProvider RoleKind = "service_provider"
)

// IdentityRoleOwner marks identities that issue invitations for their properties.
const IdentityRoleOwner = "owner"

// ErrUnknownRole is returned when a role string does not name a RoleKind.
var ErrUnknownRole = errors.New("models: unknown role kind")

// RoleKinds lists every role kind in lookup order. Token validation walks
// this slice and the first table that matches wins.
func RoleKinds() []RoleKind {
	return []RoleKind{RoleTenant, RoleServiceProvider}
}

// ParseRoleKind accepts the canonical names plus the hyphenated and camel-cased
// variants older clients send for service providers.
func ParseRoleKind(value string) (RoleKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "tenant", "tenants":
		return RoleTenant, nil
	case "service_provider", "service-provider", "serviceprovider", "provider":
		return RoleServiceProvider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
}

// Valid reports whether r is one of the supported role kinds.
func (r RoleKind) Valid() bool {
	return r == RoleTenant || r == RoleServiceProvider
}

func (r RoleKind) String() string {
	return string(r)
}

// InvitationTable returns the table holding invitations for r.
func (r RoleKind) InvitationTable() string {
	switch r {
	case RoleTenant:
		return TenantInvitation{}.TableName()
	case RoleServiceProvider:
		return ServiceProviderInvitation{}.TableName()
	default:
		return ""
	}
}

// LinkTable returns the table holding property links for r.
func (r RoleKind) LinkTable() string {
	switch r {
	case RoleTenant:
		return PropertyTenant{}.TableName()
	case RoleServiceProvider:
		return PropertyServiceProvider{}.TableName()
	default:
		return ""
	}
}
