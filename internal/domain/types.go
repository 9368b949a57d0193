package domain

import (
	"fmt"
	"strings"
)

// Role is the tagged variant a user is polymorphic over.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDriver    Role = "driver"
	RoleTraveller Role = "traveller"
)

// ParseRole normalizes s and rejects anything outside the three known roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleDriver, RoleTraveller:
		return r, nil
	}
	return "", ValidationError{Field: "role", Msg: fmt.Sprintf("unknown role %q", s)}
}

func (r Role) String() string { return string(r) }

// Capability names one operation a role may perform.
type Capability string

const (
	CapManageJourneys  Capability = "journeys:manage"
	CapManageUsers     Capability = "users:manage"
	CapManageBookings  Capability = "bookings:manage"
	CapViewAssigned    Capability = "journeys:view-assigned"
	CapViewPickups     Capability = "passengers:view-pickups"
	CapBook            Capability = "bookings:create"
	CapCancelOwn       Capability = "bookings:cancel-own"
	CapListOwnBookings Capability = "bookings:list-own"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleAdmin: {
		CapManageJourneys: {},
		CapManageUsers:    {},
		CapManageBookings: {},
		CapViewPickups:    {},
	},
	RoleDriver: {
		CapViewAssigned: {},
		CapViewPickups:  {},
	},
	RoleTraveller: {
		CapBook:            {},
		CapCancelOwn:       {},
		CapListOwnBookings: {},
	},
}

// Can reports whether r grants c.
func (r Role) Can(c Capability) bool {
	_, ok := roleCapabilities[r][c]
	return ok
}

// RequestContext carries the authenticated caller.
type RequestContext struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Require returns a ForbiddenError when the caller lacks c.
func (rc RequestContext) Require(c Capability) error {
	if rc.Role.Can(c) {
		return nil
	}
	return ForbiddenError{Msg: fmt.Sprintf("role %s may not perform %s", rc.Role, c)}
}
