package gyms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

var (
	ErrNotFound       = errors.New("gym user not found")
	ErrBindingExists  = errors.New("user is already bound to this gym")
	ErrInvalidStatus  = errors.New("invalid gym user status")
	ErrInvalidRequest = errors.New("invalid gym user request")
)

// ManageError is returned when the actor may not act on the target binding.
// It unwraps to rbac.ErrForbidden.
type ManageError struct {
	Reason string
}

func (e *ManageError) Error() string {
	return e.Reason
}

func (e *ManageError) Unwrap() error {
	return rbac.ErrForbidden
}

// TransitionError reports a status change the binding cannot make.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move gym user from %s to %s", e.From, e.To)
}

// Status is the lifecycle state of a gym binding.
type Status string

const (
	StatusActive    Status = "active"
	StatusInvited   Status = "invited"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInvited, StatusSuspended:
		return true
	}
	return false
}

// GymUser binds a user to a gym with a role. Bindings are never deleted;
// only active ones confer their role.
type GymUser struct {
	ID        string    `json:"id"`
	GymID     string    `json:"gymId"`
	UserID    string    `json:"userId"`
	Role      rbac.Role `json:"role"`
	Status    Status    `json:"status"`
	InvitedBy *string   `json:"invitedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveRole is the role the access guard should see: the bound role for
// an active binding, nil otherwise.
func (u *GymUser) EffectiveRole() *rbac.Role {
	if u == nil || u.Status != StatusActive {
		return nil
	}
	r := u.Role
	return &r
}

// Actor is the caller performing a binding change.
type Actor struct {
	UserID string
	Role   rbac.Role
	// IP is recorded on audit entries when set.
	IP string
}

// Store persists gym bindings.
type Store interface {
	Create(ctx context.Context, u *GymUser) error
	Get(ctx context.Context, gymID, userID string) (*GymUser, error)
	List(ctx context.Context, gymID string) ([]GymUser, error)
	ListForUser(ctx context.Context, userID string) ([]GymUser, error)
	UpdateRole(ctx context.Context, gymID, userID string, role rbac.Role, at time.Time) error
	UpdateStatus(ctx context.Context, gymID, userID string, status Status, at time.Time) error
}

// CreateGymRequest is the body of POST /gyms. An empty GymID is generated.
type CreateGymRequest struct {
	GymID string `json:"gymId"`
}

// InviteRequest is the body of POST /gyms/{gymId}/users/invite
type InviteRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ChangeRoleRequest is the body of PATCH /gyms/{gymId}/users/{userId}/role
type ChangeRoleRequest struct {
	Role string `json:"role"`
}
