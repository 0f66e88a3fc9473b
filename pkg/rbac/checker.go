package rbac

import "sort"

// HasPermission reports whether role carries perm. Unknown roles and
// permissions are never permitted.
func HasPermission(role Role, perm Permission) bool {
	set, ok := roleSets[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// HasAnyPermission reports whether role carries at least one of perms. It stops
// at the first match.
func HasAnyPermission(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role carries every one of perms. It stops
// at the first miss. An empty list is trivially satisfied.
func HasAllPermissions(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// GetPermissions returns a copy of the role's permissions in canonical order.
func GetPermissions(role Role) []Permission {
	set, ok := roleSets[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return permissionIndex[out[i]] < permissionIndex[out[j]]
	})
	return out
}

// CanAccess reports whether role may perform action on resource.
func CanAccess(role Role, resource, action string) bool {
	return HasPermission(role, NewPermission(resource, action))
}

// FilterByPermission keeps the items whose required permission role holds.
// Items mapped to an empty permission are always kept.
func FilterByPermission[T any](role Role, items []T, permOf func(T) Permission) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		p := permOf(item)
		if p == "" || HasPermission(role, p) {
			out = append(out, item)
		}
	}
	return out
}
