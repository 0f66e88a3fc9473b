// Package gyms manages the binding of users to gyms.
//
// A GymUser row gives a user one role in one gym. Bindings move between
// invited, active and suspended and are never deleted; only an active
// binding confers its role. Service.RoleFor is what identity resolution
// calls on every request, so it sits behind a RoleCache with an in-process
// LRU tier and an optional Redis tier.
//
// Role changes, invitations and suspensions write their own audit entries
// because they are not covered by the route interceptor's rule table.
package gyms
