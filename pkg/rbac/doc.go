// Package rbac provides the role hierarchy and permission matrix that gate every
// gym-scoped request in gymcore.
//
// # Overview
//
// Authorization is static. Roles, permissions and the role-to-permission matrix
// are package-level data built once at init and never mutated, so every
// function here is safe for unsynchronized concurrent use.
//
// # Roles
//
// Roles form a total order, highest first:
//
//	owner   (100) - Full access, including billing integrations and roles
//	admin   (90)  - Full operational access, settings and staff management
//	manager (70)  - Day-to-day operations, reports and scheduling
//	staff   (50)  - Front desk: check-ins, renewals, payment collection
//	trainer (40)  - Own classes and attendance only
//	viewer  (10)  - Read-only dashboards
//
// Seniority comparisons use ranks:
//
//	rbac.IsAtLeast(rbac.RoleManager, rbac.RoleStaff) // true
//	rbac.CanManage(rbac.RoleAdmin, rbac.RoleAdmin)   // false, peers cannot reassign peers
//
// # Permissions
//
// A Permission is a "resource.action" tag such as "payments.collect". The
// matrix is curated per role rather than derived from the hierarchy: owner
// holds every permission, but a junior role may hold a permission a senior role
// lacks (staff has "reports.view_limited", manager has "reports.view").
//
//	rbac.HasPermission(rbac.RoleStaff, rbac.PaymentsCollect)                  // true
//	rbac.HasAllPermissions(rbac.RoleTrainer, rbac.MembersView, rbac.MembersCreate) // false
//	rbac.CanAccess(rbac.RoleViewer, "classes", "view")                        // true
//
// Unknown roles and permissions never match.
//
// # Access decisions
//
// A Requirement declares either role floors (any one must be met) or a
// permission list (all must be held). Authorize is a pure function over a
// requirement and the caller's role:
//
//	err := rbac.Authorize(rbac.MinRole(rbac.RoleStaff), &role)
//	if errors.Is(err, rbac.ErrForbidden) {
//		// 403
//	}
//
// A RouteTable maps "METHOD /route/{template}" keys to requirements and is the
// single place route protection is declared.
package rbac
