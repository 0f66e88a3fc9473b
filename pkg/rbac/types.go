package rbac

import (
	"fmt"
	"strings"
)

// Role is a gym-scoped seniority level.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleTrainer Role = "trainer"
	RoleViewer  Role = "viewer"
)

type roleInfo struct {
	rank        int
	label       string
	description string
}

var roleTable = map[Role]roleInfo{
	RoleOwner:   {100, "Owner", "Full access to the gym, including billing integrations and role management"},
	RoleAdmin:   {90, "Admin", "Full operational access, settings and staff management"},
	RoleManager: {70, "Manager", "Day-to-day operations, reports, scheduling and trainers"},
	RoleStaff:   {50, "Front Desk", "Member check-in, renewals and payment collection"},
	RoleTrainer: {40, "Trainer", "Own classes and attendance only"},
	RoleViewer:  {10, "Viewer", "Read-only access to dashboards and schedules"},
}

// allRoles is ordered from most to least senior.
var allRoles = []Role{RoleOwner, RoleAdmin, RoleManager, RoleStaff, RoleTrainer, RoleViewer}

// AllRoles returns every role, most senior first.
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole converts an external value into a Role. Anything outside the
// closed set is rejected here so the rest of the package never sees it.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// Rank returns the seniority of r. Higher is more senior; unknown roles rank 0.
func (r Role) Rank() int {
	return roleTable[r].rank
}

// Label returns the display name shown in the dashboard.
func (r Role) Label() string {
	if info, ok := roleTable[r]; ok {
		return info.label
	}
	return string(r)
}

// Description returns a one-line summary of what the role is for.
func (r Role) Description() string {
	return roleTable[r].description
}

func (r Role) String() string {
	return string(r)
}

// IsAtLeast reports whether actual is as senior as required.
func IsAtLeast(actual, required Role) bool {
	if !actual.Valid() || !required.Valid() {
		return false
	}
	return actual.Rank() >= required.Rank()
}

// CanManage reports whether manager may assign or revoke target. Only strictly
// junior roles can be managed.
func CanManage(manager, target Role) bool {
	if !manager.Valid() || !target.Valid() {
		return false
	}
	return manager.Rank() > target.Rank()
}

// Permission is a "resource.action" capability tag.
type Permission string

// Resource returns the part before the dot.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ".")
	return resource
}

// Action returns the part after the dot.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ".")
	return action
}

func (p Permission) String() string {
	return string(p)
}

// Valid reports whether p is part of the enumerated permission set.
func (p Permission) Valid() bool {
	_, ok := permissionIndex[p]
	return ok
}

// NewPermission builds a permission tag from its parts.
func NewPermission(resource, action string) Permission {
	return Permission(resource + "." + action)
}
