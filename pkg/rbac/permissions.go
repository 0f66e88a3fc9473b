package rbac

const (
	DashboardView     Permission = "dashboard.view"
	DashboardViewFull Permission = "dashboard.view_full"

	MembersView   Permission = "members.view"
	MembersCreate Permission = "members.create"
	MembersUpdate Permission = "members.update"
	MembersDelete Permission = "members.delete"

	MembershipsView   Permission = "memberships.view"
	MembershipsCreate Permission = "memberships.create"
	MembershipsRenew  Permission = "memberships.renew"
	MembershipsFreeze Permission = "memberships.freeze"

	PaymentsView    Permission = "payments.view"
	PaymentsCollect Permission = "payments.collect"
	PaymentsExport  Permission = "payments.export"
	PaymentsVoid    Permission = "payments.void"

	InvoicesView   Permission = "invoices.view"
	InvoicesCreate Permission = "invoices.create"
	InvoicesVoid   Permission = "invoices.void"

	ClassesView    Permission = "classes.view"
	ClassesCreate  Permission = "classes.create"
	ClassesUpdate  Permission = "classes.update"
	ClassesDelete  Permission = "classes.delete"
	ClassesViewOwn Permission = "classes.view_own"

	AttendanceView    Permission = "attendance.view"
	AttendanceMark    Permission = "attendance.mark"
	AttendanceMarkOwn Permission = "attendance.mark_own"

	TrainersView   Permission = "trainers.view"
	TrainersCreate Permission = "trainers.create"
	TrainersUpdate Permission = "trainers.update"
	TrainersDelete Permission = "trainers.delete"

	ReportsView        Permission = "reports.view"
	ReportsViewLimited Permission = "reports.view_limited"
	ReportsExport      Permission = "reports.export"

	SettingsView         Permission = "settings.view"
	SettingsUpdate       Permission = "settings.update"
	SettingsGymProfile   Permission = "settings.gym_profile"
	SettingsPlans        Permission = "settings.plans"
	SettingsIntegrations Permission = "settings.integrations"

	UsersView    Permission = "users.view"
	UsersInvite  Permission = "users.invite"
	UsersSuspend Permission = "users.suspend"

	RolesManage Permission = "roles.manage"

	AuditView   Permission = "audit.view"
	AuditExport Permission = "audit.export"
)

// allPermissions is the canonical ordering used by AllPermissions and
// GetPermissions.
var allPermissions = []Permission{
	DashboardView, DashboardViewFull,
	MembersView, MembersCreate, MembersUpdate, MembersDelete,
	MembershipsView, MembershipsCreate, MembershipsRenew, MembershipsFreeze,
	PaymentsView, PaymentsCollect, PaymentsExport, PaymentsVoid,
	InvoicesView, InvoicesCreate, InvoicesVoid,
	ClassesView, ClassesCreate, ClassesUpdate, ClassesDelete, ClassesViewOwn,
	AttendanceView, AttendanceMark, AttendanceMarkOwn,
	TrainersView, TrainersCreate, TrainersUpdate, TrainersDelete,
	ReportsView, ReportsViewLimited, ReportsExport,
	SettingsView, SettingsUpdate, SettingsGymProfile, SettingsPlans, SettingsIntegrations,
	UsersView, UsersInvite, UsersSuspend,
	RolesManage,
	AuditView, AuditExport,
}

var permissionIndex = func() map[Permission]int {
	idx := make(map[Permission]int, len(allPermissions))
	for i, p := range allPermissions {
		idx[p] = i
	}
	return idx
}()

// rolePermissionLists is the curated matrix. Owner is filled in from
// allPermissions.
var rolePermissionLists = map[Role][]Permission{
	RoleAdmin: without(allPermissions, ClassesViewOwn, AttendanceMarkOwn, ReportsViewLimited),
	RoleManager: {
		DashboardView, DashboardViewFull,
		MembersView, MembersCreate, MembersUpdate,
		MembershipsView, MembershipsCreate, MembershipsRenew, MembershipsFreeze,
		PaymentsView, PaymentsCollect, PaymentsExport,
		InvoicesView, InvoicesCreate,
		ClassesView, ClassesCreate, ClassesUpdate, ClassesDelete,
		AttendanceView, AttendanceMark,
		TrainersView, TrainersCreate, TrainersUpdate,
		ReportsView,
		SettingsView,
		UsersView,
		AuditView,
	},
	RoleStaff: {
		DashboardView,
		MembersView, MembersCreate, MembersUpdate,
		MembershipsView, MembershipsRenew, MembershipsFreeze,
		PaymentsView, PaymentsCollect,
		InvoicesView,
		ClassesView,
		AttendanceView, AttendanceMark,
		TrainersView,
		ReportsViewLimited,
	},
	RoleTrainer: {
		DashboardView,
		MembersView,
		ClassesViewOwn,
		AttendanceMarkOwn,
		ReportsViewLimited,
	},
	RoleViewer: {
		DashboardView,
		MembersView,
		ClassesView,
		TrainersView,
		ReportsViewLimited,
	},
}

type permissionSet map[Permission]struct{}

var roleSets = func() map[Role]permissionSet {
	sets := make(map[Role]permissionSet, len(roleTable))
	sets[RoleOwner] = newPermissionSet(allPermissions)
	for role, perms := range rolePermissionLists {
		sets[role] = newPermissionSet(perms)
	}
	return sets
}()

func newPermissionSet(perms []Permission) permissionSet {
	set := make(permissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func without(perms []Permission, drop ...Permission) []Permission {
	skip := newPermissionSet(drop)
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := skip[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// AllPermissions returns the full enumerated permission set.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}
