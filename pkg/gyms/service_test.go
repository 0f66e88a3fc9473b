package gyms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftoff-labs/gymcore/pkg/audit"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
	"github.com/liftoff-labs/gymcore/pkg/storage"
)

type fixture struct {
	svc   *Service
	audit *audit.SQLStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cm := newSQLiteConns(t)
	auditStore := audit.NewSQLStore(cm, nil)
	svc := NewService(NewSQLStore(cm),
		WithCache(NewRoleCache(CacheConfig{}, nil, nil, nil)),
		WithRecorder(audit.NewRecorder(auditStore)),
		WithClock(func() time.Time { return t0 }),
	)
	return &fixture{svc: svc, audit: auditStore}
}

func (f *fixture) entries(t *testing.T, gymID string, action audit.Action) []audit.Entry {
	t.Helper()
	page, err := f.audit.Query(context.Background(), gymID, audit.Filter{Action: action})
	require.NoError(t, err)
	return page.Logs
}

func (f *fixture) role(t *testing.T, gymID, userID string) *rbac.Role {
	t.Helper()
	role, err := f.svc.RoleFor(context.Background(), gymID, userID)
	require.NoError(t, err)
	return role
}

// seedGym creates gym-1 with an owner, an admin, a manager and an active
// staff member.
func (f *fixture) seedGym(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Bootstrap(ctx, "gym-1", "owner")
	require.NoError(t, err)

	owner := Actor{UserID: "owner", Role: rbac.RoleOwner}
	for user, role := range map[string]rbac.Role{"admin": rbac.RoleAdmin, "manager": rbac.RoleManager, "staff": rbac.RoleStaff} {
		_, err := f.svc.Invite(ctx, owner, "gym-1", user, role)
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, "gym-1", user)
		require.NoError(t, err)
	}
}

func TestService_Bootstrap(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Bootstrap(context.Background(), "gym-1", "owner")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, u.Role)
	assert.Equal(t, StatusActive, u.Status)

	assert.Equal(t, rbac.RoleOwner, *f.role(t, "gym-1", "owner"))

	created := f.entries(t, "gym-1", audit.ActionGymCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "gym-1", *created[0].EntityID)
	assert.Equal(t, "owner", *created[0].ActorUserID)

	_, err = f.svc.Bootstrap(context.Background(), "gym-1", "owner")
	assert.ErrorIs(t, err, ErrBindingExists)
	_, err = f.svc.Bootstrap(context.Background(), "", "owner")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_InviteAndAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: "admin", Role: rbac.RoleAdmin, IP: "192.0.2.1"}

	u, err := f.svc.Invite(ctx, admin, "gym-1", "user-1", rbac.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, StatusInvited, u.Status)
	require.NotNil(t, u.InvitedBy)
	assert.Equal(t, "admin", *u.InvitedBy)

	assert.Nil(t, f.role(t, "gym-1", "user-1"), "invited users have no role yet")

	invited := f.entries(t, "gym-1", audit.ActionUserInvited)
	require.Len(t, invited, 1)
	assert.Equal(t, "user-1", *invited[0].EntityID)
	assert.Equal(t, "staff", invited[0].Metadata["role"])
	assert.Equal(t, "192.0.2.1", *invited[0].IPAddress)

	_, err = f.svc.Accept(ctx, "gym-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStaff, *f.role(t, "gym-1", "user-1"), "cache is invalidated on accept")

	_, err = f.svc.Accept(ctx, "gym-1", "user-1")
	var transErr *TransitionError
	assert.ErrorAs(t, err, &transErr)

	_, err = f.svc.Invite(ctx, admin, "gym-1", "user-1", rbac.RoleViewer)
	assert.ErrorIs(t, err, ErrBindingExists)
}

func TestService_InviteRequiresSeniority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, Actor{UserID: "admin", Role: rbac.RoleAdmin}, "gym-1", "user-1", rbac.RoleAdmin)
	var manageErr *ManageError
	require.ErrorAs(t, err, &manageErr)
	assert.True(t, errors.Is(err, rbac.ErrForbidden))
	assert.Equal(t, "Admin cannot invite users as Admin", manageErr.Reason)

	_, err = f.svc.Invite(ctx, Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "user-1", "coach")
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)

	_, err = f.svc.Invite(ctx, Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "", rbac.RoleStaff)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, f.entries(t, "gym-1", audit.ActionUserInvited))
}

func TestService_ChangeRole(t *testing.T) {
	f := newFixture(t)
	f.seedGym(t)
	ctx := context.Background()
	manager := Actor{UserID: "manager", Role: rbac.RoleManager}

	assert.Equal(t, rbac.RoleStaff, *f.role(t, "gym-1", "staff"))

	u, err := f.svc.ChangeRole(ctx, manager, "gym-1", "staff", rbac.RoleTrainer)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleTrainer, u.Role)
	assert.Equal(t, rbac.RoleTrainer, *f.role(t, "gym-1", "staff"), "cached role is replaced")

	changed := f.entries(t, "gym-1", audit.ActionRoleChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, map[string]interface{}{"from": "staff", "to": "trainer"}, changed[0].Metadata)
	assert.Equal(t, "manager", *changed[0].ActorUserID)

	_, err = f.svc.ChangeRole(ctx, manager, "gym-1", "staff", rbac.RoleManager)
	assert.ErrorIs(t, err, rbac.ErrForbidden, "cannot promote to own rank")

	_, err = f.svc.ChangeRole(ctx, manager, "gym-1", "admin", rbac.RoleViewer)
	assert.ErrorIs(t, err, rbac.ErrForbidden, "cannot demote a senior")

	_, err = f.svc.ChangeRole(ctx, Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "owner", rbac.RoleViewer)
	assert.ErrorIs(t, err, rbac.ErrForbidden, "cannot change own role")

	_, err = f.svc.ChangeRole(ctx, manager, "gym-1", "ghost", rbac.RoleViewer)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ChangeRole(ctx, manager, "gym-1", "staff", rbac.RoleTrainer)
	require.NoError(t, err)
	assert.Len(t, f.entries(t, "gym-1", audit.ActionRoleChanged), 1, "no-op change is not audited")
}

func TestService_SuspendReactivate(t *testing.T) {
	f := newFixture(t)
	f.seedGym(t)
	ctx := context.Background()
	admin := Actor{UserID: "admin", Role: rbac.RoleAdmin}

	assert.NotNil(t, f.role(t, "gym-1", "manager"))

	u, err := f.svc.Suspend(ctx, admin, "gym-1", "manager")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, u.Status)
	assert.Nil(t, f.role(t, "gym-1", "manager"), "suspended users have no role")

	suspended := f.entries(t, "gym-1", audit.ActionUserSuspended)
	require.Len(t, suspended, 1)
	assert.Equal(t, "active", suspended[0].Metadata["previousStatus"])

	_, err = f.svc.Suspend(ctx, admin, "gym-1", "manager")
	var transErr *TransitionError
	assert.ErrorAs(t, err, &transErr)

	_, err = f.svc.Suspend(ctx, admin, "gym-1", "owner")
	assert.ErrorIs(t, err, rbac.ErrForbidden)

	_, err = f.svc.Reactivate(ctx, admin, "gym-1", "manager")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, *f.role(t, "gym-1", "manager"))

	_, err = f.svc.Reactivate(ctx, admin, "gym-1", "manager")
	assert.ErrorAs(t, err, &transErr)
}

func TestService_AuditFailureDoesNotFailChange(t *testing.T) {
	cm := newSQLiteConns(t)

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DialectSQLite
	cfg.DatabaseURL = ":memory:"
	unmigrated, err := storage.NewConnectionManager(context.Background(), cfg)
	require.NoError(t, err)
	defer unmigrated.Close()

	svc := NewService(NewSQLStore(cm), WithRecorder(audit.NewRecorder(audit.NewSQLStore(unmigrated, nil))))

	_, err = svc.Bootstrap(context.Background(), "gym-1", "owner")
	require.NoError(t, err)
	_, err = svc.Invite(context.Background(), Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "user-1", rbac.RoleStaff)
	require.NoError(t, err)
}

func TestService_RoleForWithoutCache(t *testing.T) {
	cm := newSQLiteConns(t)
	svc := NewService(NewSQLStore(cm))

	role, err := svc.RoleFor(context.Background(), "gym-1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, role)

	role, err = svc.RoleFor(context.Background(), "", "nobody")
	require.NoError(t, err)
	assert.Nil(t, role)

	_, err = svc.Bootstrap(context.Background(), "gym-1", "owner")
	require.NoError(t, err)
	role, err = svc.RoleFor(context.Background(), "gym-1", "owner")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, *role)

	gyms, err := svc.GymsFor(context.Background(), "owner")
	require.NoError(t, err)
	require.Len(t, gyms, 1)
	assert.Equal(t, "gym-1", gyms[0].GymID)
}

func TestEffectiveRole(t *testing.T) {
	var nilUser *GymUser
	assert.Nil(t, nilUser.EffectiveRole())
	assert.Nil(t, (&GymUser{Role: rbac.RoleOwner, Status: StatusInvited}).EffectiveRole())
	assert.Nil(t, (&GymUser{Role: rbac.RoleOwner, Status: StatusSuspended}).EffectiveRole())
	assert.Equal(t, rbac.RoleOwner, *(&GymUser{Role: rbac.RoleOwner, Status: StatusActive}).EffectiveRole())
}

// racingStore runs hook once, after the next Get has read its row.
type racingStore struct {
	Store
	hook func()
}

func (r *racingStore) Get(ctx context.Context, gymID, userID string) (*GymUser, error) {
	u, err := r.Store.Get(ctx, gymID, userID)
	if h := r.hook; h != nil {
		r.hook = nil
		h()
	}
	return u, err
}

func TestService_SuspendDuringLookupIsNotCached(t *testing.T) {
	cm := newSQLiteConns(t)
	store := &racingStore{Store: NewSQLStore(cm)}
	svc := NewService(store,
		WithCache(NewRoleCache(CacheConfig{}, nil, nil, nil)),
		WithClock(func() time.Time { return t0 }),
	)
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, "gym-1", "owner")
	require.NoError(t, err)
	_, err = svc.Invite(ctx, Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "staff", rbac.RoleStaff)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "gym-1", "staff")
	require.NoError(t, err)

	store.hook = func() {
		_, err := svc.Suspend(ctx, Actor{UserID: "owner", Role: rbac.RoleOwner}, "gym-1", "staff")
		require.NoError(t, err)
	}
	role, err := svc.RoleFor(ctx, "gym-1", "staff")
	require.NoError(t, err)
	require.NotNil(t, role, "the in-flight lookup saw the active row")

	role, err = svc.RoleFor(ctx, "gym-1", "staff")
	require.NoError(t, err)
	assert.Nil(t, role, "the suspension wins over the racing fill")
}
