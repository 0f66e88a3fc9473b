package gyms

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftoff-labs/gymcore/pkg/rbac"
	"github.com/liftoff-labs/gymcore/pkg/storage"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newSQLiteConns(t *testing.T) *storage.ConnectionManager {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DialectSQLite
	cfg.DatabaseURL = ":memory:"

	cm, err := storage.NewConnectionManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })
	require.NoError(t, storage.Migrate(context.Background(), cm.Primary(), storage.DialectSQLite))
	return cm
}

func binding(id, gymID, userID string, role rbac.Role, status Status) *GymUser {
	return &GymUser{ID: id, GymID: gymID, UserID: userID, Role: role, Status: status, CreatedAt: t0, UpdatedAt: t0}
}

func TestSQLStore_CreateGet(t *testing.T) {
	store := NewSQLStore(newSQLiteConns(t))
	ctx := context.Background()

	inviter := "user-owner"
	u := binding("b-1", "gym-1", "user-1", rbac.RoleStaff, StatusInvited)
	u.InvitedBy = &inviter
	require.NoError(t, store.Create(ctx, u))

	got, err := store.Get(ctx, "gym-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStaff, got.Role)
	assert.Equal(t, StatusInvited, got.Status)
	require.NotNil(t, got.InvitedBy)
	assert.Equal(t, inviter, *got.InvitedBy)
	assert.True(t, t0.Equal(got.CreatedAt))

	_, err = store.Get(ctx, "gym-2", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_DuplicateBinding(t *testing.T) {
	store := NewSQLStore(newSQLiteConns(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, binding("b-1", "gym-1", "user-1", rbac.RoleStaff, StatusActive)))
	err := store.Create(ctx, binding("b-2", "gym-1", "user-1", rbac.RoleViewer, StatusActive))
	assert.ErrorIs(t, err, ErrBindingExists)

	require.NoError(t, store.Create(ctx, binding("b-3", "gym-2", "user-1", rbac.RoleViewer, StatusActive)))
}

func TestSQLStore_Updates(t *testing.T) {
	store := NewSQLStore(newSQLiteConns(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, binding("b-1", "gym-1", "user-1", rbac.RoleStaff, StatusActive)))

	later := t0.Add(time.Hour)
	require.NoError(t, store.UpdateRole(ctx, "gym-1", "user-1", rbac.RoleManager, later))
	require.NoError(t, store.UpdateStatus(ctx, "gym-1", "user-1", StatusSuspended, later))

	got, err := store.Get(ctx, "gym-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, got.Role)
	assert.Equal(t, StatusSuspended, got.Status)
	assert.True(t, later.Equal(got.UpdatedAt))

	assert.ErrorIs(t, store.UpdateRole(ctx, "gym-1", "nobody", rbac.RoleViewer, later), ErrNotFound)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "gym-9", "user-1", StatusActive, later), ErrNotFound)
}

func TestSQLStore_Lists(t *testing.T) {
	store := NewSQLStore(newSQLiteConns(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, binding("b-1", "gym-1", "user-1", rbac.RoleOwner, StatusActive)))
	u2 := binding("b-2", "gym-1", "user-2", rbac.RoleStaff, StatusInvited)
	u2.CreatedAt = t0.Add(time.Minute)
	require.NoError(t, store.Create(ctx, u2))
	require.NoError(t, store.Create(ctx, binding("b-3", "gym-2", "user-1", rbac.RoleViewer, StatusSuspended)))
	require.NoError(t, store.Create(ctx, binding("b-4", "gym-3", "user-1", rbac.RoleTrainer, StatusActive)))

	users, err := store.List(ctx, "gym-1")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "user-1", users[0].UserID)
	assert.Equal(t, "user-2", users[1].UserID)

	mine, err := store.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "gym-1", mine[0].GymID)
	assert.Equal(t, "gym-3", mine[1].GymID)

	none, err := store.List(ctx, "gym-404")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLStore_PostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(storage.NewSingleConnection(db, storage.DialectPostgres))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO gym_users (id, gym_id, user_id, role, status, invited_by, created_at, updated_at)`)).
		WithArgs("b-1", "gym-1", "user-1", "staff", "active", nil, t0, t0).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err = store.Create(context.Background(), binding("b-1", "gym-1", "user-1", rbac.RoleStaff, StatusActive))
	assert.ErrorIs(t, err, ErrBindingExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresOtherError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(storage.NewSingleConnection(db, storage.DialectPostgres))

	mock.ExpectExec(`INSERT INTO gym_users`).
		WillReturnError(&pq.Error{Code: "23514", Message: "check constraint"})

	err = store.Create(context.Background(), binding("b-1", "gym-1", "user-1", rbac.RoleStaff, StatusActive))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBindingExists))
	assert.Contains(t, err.Error(), "failed to create gym user")
}

func TestSQLStore_GetQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(storage.NewSingleConnection(db, storage.DialectPostgres))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM gym_users WHERE gym_id = $1 AND user_id = $2`)).
		WithArgs("gym-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "gym_id", "user_id", "role", "status", "invited_by", "created_at", "updated_at"}).
			AddRow("b-1", "gym-1", "user-1", "trainer", "active", nil, t0, t0))

	got, err := store.Get(context.Background(), "gym-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleTrainer, got.Role)
	assert.Nil(t, got.InvitedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}
