package gyms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liftoff-labs/gymcore/pkg/audit"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Service manages gym bindings and resolves the effective role of a user in
// a gym. Binding changes are audited directly; audit failures are logged and
// never fail the change.
type Service struct {
	store    Store
	cache    *RoleCache
	recorder *audit.Recorder
	logger   *observability.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables role caching.
func WithCache(c *RoleCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRecorder audits binding changes through rec.
func WithRecorder(rec *audit.Recorder) Option {
	return func(s *Service) { s.recorder = rec }
}

// WithLogger sets the service logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: observability.GetLogger(context.Background()),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "gyms")
	return s
}

// RoleFor returns the effective role of userID in gymID, or nil when the
// user has no active binding there.
func (s *Service) RoleFor(ctx context.Context, gymID, userID string) (*rbac.Role, error) {
	if gymID == "" || userID == "" {
		return nil, nil
	}
	var token FillToken
	if s.cache != nil {
		if role, ok := s.cache.Get(ctx, gymID, userID); ok {
			return role, nil
		}
		token = s.cache.Token(ctx, gymID, userID)
	}

	u, err := s.store.Get(ctx, gymID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	role := u.EffectiveRole()

	if s.cache != nil {
		s.cache.Fill(ctx, token, role)
	}
	return role, nil
}

// Get returns the binding of userID in gymID.
func (s *Service) Get(ctx context.Context, gymID, userID string) (*GymUser, error) {
	return s.store.Get(ctx, gymID, userID)
}

// List returns every binding of gymID.
func (s *Service) List(ctx context.Context, gymID string) ([]GymUser, error) {
	return s.store.List(ctx, gymID)
}

// GymsFor returns the gyms where userID holds an active binding.
func (s *Service) GymsFor(ctx context.Context, userID string) ([]GymUser, error) {
	return s.store.ListForUser(ctx, userID)
}

// Bootstrap binds the first owner of a newly created gym.
func (s *Service) Bootstrap(ctx context.Context, gymID, ownerID string) (*GymUser, error) {
	if gymID == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: gym and owner are required", ErrInvalidRequest)
	}
	u := s.newBinding(gymID, ownerID, rbac.RoleOwner, StatusActive, nil)
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.invalidate(ctx, gymID, ownerID)

	s.record(ctx, gymID, Actor{UserID: ownerID}, audit.ActionGymCreated, audit.EntityGym, gymID, map[string]interface{}{
		"ownerUserId": ownerID,
	})
	return u, nil
}

// Invite creates an invited binding. The actor may only invite roles
// strictly junior to their own.
func (s *Service) Invite(ctx context.Context, actor Actor, gymID, userID string, role rbac.Role) (*GymUser, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", rbac.ErrUnknownRole, role)
	}
	if !rbac.CanManage(actor.Role, role) {
		return nil, &ManageError{Reason: fmt.Sprintf("%s cannot invite users as %s", actor.Role.Label(), role.Label())}
	}

	invitedBy := actor.UserID
	u := s.newBinding(gymID, userID, role, StatusInvited, &invitedBy)
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.invalidate(ctx, gymID, userID)

	s.record(ctx, gymID, actor, audit.ActionUserInvited, audit.EntityUser, userID, map[string]interface{}{
		"role": string(role),
	})
	return u, nil
}

// Accept activates the caller's own pending invitation.
func (s *Service) Accept(ctx context.Context, gymID, userID string) (*GymUser, error) {
	u, err := s.store.Get(ctx, gymID, userID)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusInvited {
		return nil, &TransitionError{From: u.Status, To: StatusActive}
	}
	return s.setStatus(ctx, u, StatusActive)
}

// ChangeRole moves userID to role. The actor must outrank both the current
// and the new role, and may not change their own role.
func (s *Service) ChangeRole(ctx context.Context, actor Actor, gymID, userID string, role rbac.Role) (*GymUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", rbac.ErrUnknownRole, role)
	}
	u, err := s.manageable(ctx, actor, gymID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManage(actor.Role, role) {
		return nil, &ManageError{Reason: fmt.Sprintf("%s cannot assign the %s role", actor.Role.Label(), role.Label())}
	}
	if u.Role == role {
		return u, nil
	}

	from := u.Role
	at := s.now().UTC()
	if err := s.store.UpdateRole(ctx, gymID, userID, role, at); err != nil {
		return nil, err
	}
	u.Role = role
	u.UpdatedAt = at
	s.invalidate(ctx, gymID, userID)

	s.record(ctx, gymID, actor, audit.ActionRoleChanged, audit.EntityUser, userID, map[string]interface{}{
		"from": string(from),
		"to":   string(role),
	})
	return u, nil
}

// Suspend revokes an active or invited binding's access.
func (s *Service) Suspend(ctx context.Context, actor Actor, gymID, userID string) (*GymUser, error) {
	u, err := s.manageable(ctx, actor, gymID, userID)
	if err != nil {
		return nil, err
	}
	if u.Status == StatusSuspended {
		return nil, &TransitionError{From: u.Status, To: StatusSuspended}
	}

	previous := u.Status
	if u, err = s.setStatus(ctx, u, StatusSuspended); err != nil {
		return nil, err
	}
	s.record(ctx, gymID, actor, audit.ActionUserSuspended, audit.EntityUser, userID, map[string]interface{}{
		"previousStatus": string(previous),
	})
	return u, nil
}

// Reactivate restores a suspended binding.
func (s *Service) Reactivate(ctx context.Context, actor Actor, gymID, userID string) (*GymUser, error) {
	u, err := s.manageable(ctx, actor, gymID, userID)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusSuspended {
		return nil, &TransitionError{From: u.Status, To: StatusActive}
	}
	if u, err = s.setStatus(ctx, u, StatusActive); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"gym_id":  gymID,
		"user_id": userID,
		"actor":   actor.UserID,
	}).Info("Gym user reactivated")
	return u, nil
}

// manageable loads the target binding and checks the actor outranks it.
func (s *Service) manageable(ctx context.Context, actor Actor, gymID, userID string) (*GymUser, error) {
	if actor.UserID == userID {
		return nil, &ManageError{Reason: "You cannot change your own access"}
	}
	u, err := s.store.Get(ctx, gymID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManage(actor.Role, u.Role) {
		return nil, &ManageError{Reason: fmt.Sprintf("%s cannot manage a user with the %s role", actor.Role.Label(), u.Role.Label())}
	}
	return u, nil
}

func (s *Service) setStatus(ctx context.Context, u *GymUser, status Status) (*GymUser, error) {
	at := s.now().UTC()
	if err := s.store.UpdateStatus(ctx, u.GymID, u.UserID, status, at); err != nil {
		return nil, err
	}
	u.Status = status
	u.UpdatedAt = at
	s.invalidate(ctx, u.GymID, u.UserID)
	return u, nil
}

func (s *Service) newBinding(gymID, userID string, role rbac.Role, status Status, invitedBy *string) *GymUser {
	at := s.now().UTC()
	return &GymUser{
		ID:        s.newID(),
		GymID:     gymID,
		UserID:    userID,
		Role:      role,
		Status:    status,
		InvitedBy: invitedBy,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (s *Service) invalidate(ctx context.Context, gymID, userID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, gymID, userID)
	}
}

func (s *Service) record(ctx context.Context, gymID string, actor Actor, action audit.Action, entity audit.EntityType, entityID string, md map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	actorID, ip := actor.UserID, actor.IP
	if _, err := s.recorder.Record(ctx, gymID, &actorID, audit.Event{
		Action:     action,
		EntityType: entity,
		EntityID:   &entityID,
		Metadata:   md,
	}, &ip); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"gym_id": gymID,
			"action": string(action),
		}).Error("Audit logging failed")
	}
}
