package api

import (
	"net/http"

	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Route is one /api endpoint and what it demands of callers.
type Route struct {
	Method      string
	Path        string
	Requirement rbac.Requirement
}

// Key is the route's rbac.RouteKey.
func (r Route) Key() string {
	return rbac.RouteKey(r.Method, r.Path)
}

const (
	apiPrefix = "/api"
	gymPrefix = apiPrefix + "/gyms/{gymId}"
)

var (
	viewer  = rbac.MinRole(rbac.RoleViewer)
	staff   = rbac.MinRole(rbac.RoleStaff)
	manager = rbac.MinRole(rbac.RoleManager)
	admin   = rbac.MinRole(rbac.RoleAdmin)
	anyone  = rbac.Requirement{}
)

func gym(method, path string, req rbac.Requirement) Route {
	return Route{Method: method, Path: gymPrefix + path, Requirement: req}
}

// Built-in routes served by this module.
var (
	RouteCreateGym       = Route{Method: http.MethodPost, Path: apiPrefix + "/gyms", Requirement: anyone}
	RouteMyGyms          = Route{Method: http.MethodGet, Path: apiPrefix + "/gyms/mine", Requirement: anyone}
	RouteActivity        = gym(http.MethodGet, "/activity", viewer)
	RouteAuditList       = gym(http.MethodGet, "/audit", admin)
	RouteAuditActions    = gym(http.MethodGet, "/audit/actions", admin)
	RouteAuditEntities   = gym(http.MethodGet, "/audit/entities", admin)
	RouteAuditExport     = gym(http.MethodGet, "/audit/export", rbac.AllOf(rbac.AuditExport))
	RouteUsersList       = gym(http.MethodGet, "/users", rbac.AllOf(rbac.UsersView))
	RouteUsersInvite     = gym(http.MethodPost, "/users/invite", rbac.AllOf(rbac.UsersInvite))
	RouteUsersAccept     = gym(http.MethodPost, "/users/accept", anyone)
	RouteUsersRole       = gym(http.MethodPatch, "/users/{userId}/role", rbac.AllOf(rbac.RolesManage))
	RouteUsersSuspend    = gym(http.MethodPost, "/users/{userId}/suspend", rbac.AllOf(rbac.UsersSuspend))
	RouteUsersReactivate = gym(http.MethodPost, "/users/{userId}/reactivate", rbac.AllOf(rbac.UsersSuspend))
)

// BuiltinRoutes lists the routes NewServer binds itself. RouteMyGyms comes
// first so it matches before the {gymId} patterns.
func BuiltinRoutes() []Route {
	return []Route{
		RouteCreateGym,
		RouteMyGyms,
		RouteActivity,
		RouteAuditList,
		RouteAuditActions,
		RouteAuditEntities,
		RouteAuditExport,
		RouteUsersList,
		RouteUsersInvite,
		RouteUsersAccept,
		RouteUsersRole,
		RouteUsersSuspend,
		RouteUsersReactivate,
	}
}

// BusinessRoutes lists the gym CRUD routes whose handlers the embedding
// application supplies. Unbound routes answer 501.
func BusinessRoutes() []Route {
	return []Route{
		gym(http.MethodGet, "", viewer),
		gym(http.MethodPatch, "", admin),
		gym(http.MethodGet, "/stats", viewer),

		gym(http.MethodPost, "/members", staff),
		gym(http.MethodGet, "/members", viewer),
		gym(http.MethodGet, "/members/{id}", viewer),
		gym(http.MethodPatch, "/members/{id}", staff),
		gym(http.MethodDelete, "/members/{id}", manager),

		gym(http.MethodPost, "/memberships/{id}/renew", staff),
		gym(http.MethodPost, "/memberships/{id}/freeze", staff),
		gym(http.MethodPost, "/memberships/{id}/unfreeze", staff),

		gym(http.MethodPost, "/payments/collect", staff),
		gym(http.MethodGet, "/payments", staff),

		gym(http.MethodGet, "/invoices", staff),
		gym(http.MethodGet, "/invoices/overdue", staff),
		gym(http.MethodGet, "/invoices/{id}", staff),
		gym(http.MethodPost, "/invoices/{id}/void", manager),

		gym(http.MethodPost, "/classes", staff),
		gym(http.MethodGet, "/classes/schedule", viewer),
		gym(http.MethodGet, "/classes/{id}", viewer),
		gym(http.MethodPatch, "/classes/{id}", staff),
		gym(http.MethodDelete, "/classes/{id}", manager),
		gym(http.MethodPost, "/classes/{id}/attendance", staff),
		gym(http.MethodPost, "/classes/{id}/attendance/bulk", staff),

		gym(http.MethodPost, "/trainers", manager),
		gym(http.MethodGet, "/trainers", viewer),
		gym(http.MethodGet, "/trainers/{id}", viewer),
		gym(http.MethodPatch, "/trainers/{id}", manager),
		gym(http.MethodDelete, "/trainers/{id}", manager),

		gym(http.MethodPost, "/plans", admin),
		gym(http.MethodGet, "/plans", viewer),
		gym(http.MethodGet, "/plans/{id}", viewer),
		gym(http.MethodPatch, "/plans/{id}", admin),

		gym(http.MethodGet, "/reports/revenue", manager),
		gym(http.MethodGet, "/reports/overdue", manager),
		gym(http.MethodGet, "/reports/churn", manager),
		gym(http.MethodGet, "/reports/occupancy", manager),
	}
}

// AuditExemptRoutes are mutating routes that write their own audit entries
// or change nothing tenant-visible.
func AuditExemptRoutes() []string {
	return []string{
		RouteCreateGym.Key(),
		RouteUsersInvite.Key(),
		RouteUsersAccept.Key(),
		RouteUsersRole.Key(),
		RouteUsersSuspend.Key(),
		RouteUsersReactivate.Key(),
	}
}

// NewRouteTable declares every route's requirement.
func NewRouteTable(routes ...[]Route) (*rbac.RouteTable, error) {
	t := rbac.NewRouteTable()
	for _, group := range routes {
		for _, r := range group {
			if err := t.Declare(r.Method, r.Path, r.Requirement); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}
