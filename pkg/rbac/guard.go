package rbac

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrForbidden is wrapped by every authorization denial.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownRole is returned by ParseRole for values outside the role set.
	ErrUnknownRole = errors.New("unknown role")
)

const (
	ReasonNoRole       = "No role assigned"
	ReasonInsufficient = "Insufficient permissions"
)

// AccessError is an authorization denial. Reason is safe to show to callers.
type AccessError struct {
	Reason string
}

func (e *AccessError) Error() string {
	return "access denied: " + e.Reason
}

func (e *AccessError) Unwrap() error {
	return ErrForbidden
}

// Requirement is what a route declares about its callers. Roles are
// alternatives compared by seniority floor; Permissions must all be held.
type Requirement struct {
	Roles       []Role       `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// MinRole declares acceptable minimum roles.
func MinRole(roles ...Role) Requirement {
	return Requirement{Roles: roles}
}

// AllOf declares required permissions.
func AllOf(perms ...Permission) Requirement {
	return Requirement{Permissions: perms}
}

// IsZero reports whether nothing beyond authentication is required.
func (req Requirement) IsZero() bool {
	return len(req.Roles) == 0 && len(req.Permissions) == 0
}

func (req Requirement) String() string {
	var parts []string
	if len(req.Roles) > 0 {
		roles := make([]string, len(req.Roles))
		for i, r := range req.Roles {
			roles[i] = string(r)
		}
		parts = append(parts, "roles>="+strings.Join(roles, "|"))
	}
	if len(req.Permissions) > 0 {
		perms := make([]string, len(req.Permissions))
		for i, p := range req.Permissions {
			perms[i] = string(p)
		}
		parts = append(parts, "perms="+strings.Join(perms, "&"))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// Authorize decides whether a caller holding role satisfies req. A nil role
// means the caller has no active binding in the gym.
func Authorize(req Requirement, role *Role) error {
	if req.IsZero() {
		return nil
	}
	if role == nil {
		return &AccessError{Reason: ReasonNoRole}
	}

	if len(req.Roles) > 0 && !meetsAnyFloor(*role, req.Roles) {
		return &AccessError{Reason: ReasonInsufficient}
	}
	if len(req.Permissions) > 0 && !HasAllPermissions(*role, req.Permissions...) {
		return &AccessError{Reason: ReasonInsufficient}
	}
	return nil
}

func meetsAnyFloor(role Role, floors []Role) bool {
	for _, floor := range floors {
		if IsAtLeast(role, floor) {
			return true
		}
	}
	return false
}

// RouteKey builds the lookup key for a method and mux path template.
func RouteKey(method, template string) string {
	return strings.ToUpper(method) + " " + template
}

// RouteTable maps routes to their declared requirement. It is populated once
// at startup and only read afterwards.
type RouteTable struct {
	entries map[string]Requirement
}

// NewRouteTable creates an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{entries: make(map[string]Requirement)}
}

// Declare registers req for method and template. Declaring the same route
// twice is a programming error.
func (t *RouteTable) Declare(method, template string, req Requirement) error {
	key := RouteKey(method, template)
	if _, exists := t.entries[key]; exists {
		return fmt.Errorf("route %s already declared", key)
	}
	for _, r := range req.Roles {
		if !r.Valid() {
			return fmt.Errorf("route %s: %w: %q", key, ErrUnknownRole, r)
		}
	}
	for _, p := range req.Permissions {
		if !p.Valid() {
			return fmt.Errorf("route %s: unknown permission %q", key, p)
		}
	}
	t.entries[key] = req
	return nil
}

// Lookup returns the requirement for a route and whether one was declared.
func (t *RouteTable) Lookup(method, template string) (Requirement, bool) {
	req, ok := t.entries[RouteKey(method, template)]
	return req, ok
}

// Keys returns every declared route key, sorted.
func (t *RouteTable) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
