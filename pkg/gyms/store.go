package gyms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Conns is the subset of storage.ConnectionManager the store needs.
type Conns interface {
	Primary() *sql.DB
	Replica() *sql.DB
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const gymUserColumns = `id, gym_id, user_id, role, status, invited_by, created_at, updated_at`

// SQLStore keeps bindings in the gym_users table.
type SQLStore struct {
	conns Conns
}

// NewSQLStore creates a store over conns.
func NewSQLStore(conns Conns) *SQLStore {
	return &SQLStore{conns: conns}
}

// Create inserts u. A second binding for the same gym and user fails with
// ErrBindingExists.
func (s *SQLStore) Create(ctx context.Context, u *GymUser) error {
	_, err := s.conns.Primary().ExecContext(ctx,
		`INSERT INTO gym_users (`+gymUserColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.GymID, u.UserID, string(u.Role), string(u.Status), u.InvitedBy,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrBindingExists
	}
	if err != nil {
		return fmt.Errorf("failed to create gym user: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Get reads from the primary so a role change is visible to the next
// request even with lagging replicas.
func (s *SQLStore) Get(ctx context.Context, gymID, userID string) (*GymUser, error) {
	row := s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+gymUserColumns+` FROM gym_users WHERE gym_id = $1 AND user_id = $2`,
		gymID, userID,
	)
	u, err := scanGymUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gym user: %w", err)
	}
	return u, nil
}

// List returns every binding of gymID, oldest first.
func (s *SQLStore) List(ctx context.Context, gymID string) ([]GymUser, error) {
	return s.list(ctx,
		`SELECT `+gymUserColumns+` FROM gym_users WHERE gym_id = $1 ORDER BY created_at ASC, id ASC`,
		gymID)
}

// ListForUser returns the active bindings of userID across gyms.
func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]GymUser, error) {
	return s.list(ctx,
		`SELECT `+gymUserColumns+` FROM gym_users WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC, id ASC`,
		userID, string(StatusActive))
}

func (s *SQLStore) list(ctx context.Context, query string, args ...interface{}) ([]GymUser, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gym users: %w", err)
	}
	defer rows.Close()

	users := make([]GymUser, 0)
	for rows.Next() {
		u, err := scanGymUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gym user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gym users: %w", err)
	}
	return users, nil
}

// UpdateRole sets the role of an existing binding.
func (s *SQLStore) UpdateRole(ctx context.Context, gymID, userID string, role rbac.Role, at time.Time) error {
	return s.update(ctx, "role", `UPDATE gym_users SET role = $1, updated_at = $2 WHERE gym_id = $3 AND user_id = $4`,
		string(role), at.UTC(), gymID, userID)
}

// UpdateStatus sets the status of an existing binding.
func (s *SQLStore) UpdateStatus(ctx context.Context, gymID, userID string, status Status, at time.Time) error {
	return s.update(ctx, "status", `UPDATE gym_users SET status = $1, updated_at = $2 WHERE gym_id = $3 AND user_id = $4`,
		string(status), at.UTC(), gymID, userID)
}

func (s *SQLStore) update(ctx context.Context, field, query string, args ...interface{}) error {
	result, err := s.conns.Primary().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update gym user %s: %w", field, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGymUser(row rowScanner) (*GymUser, error) {
	var (
		u            GymUser
		role, status string
		invitedBy    sql.NullString
	)
	if err := row.Scan(&u.ID, &u.GymID, &u.UserID, &role, &status, &invitedBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = rbac.Role(role)
	u.Status = Status(status)
	if invitedBy.Valid {
		u.InvitedBy = &invitedBy.String
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
