package auth

import (
	"context"
	"net/http"

	"github.com/liftoff-labs/gymcore/pkg/contextkeys"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Identity is the resolved (actor, gym, role) triple for one request.
type Identity struct {
	UserID string     `json:"user_id,omitempty"`
	GymID  string     `json:"gym_id,omitempty"`
	Role   *rbac.Role `json:"role,omitempty"`
}

// Authenticated reports whether an acting user was resolved.
func (i *Identity) Authenticated() bool {
	return i != nil && i.UserID != ""
}

// ActorID returns the acting user for audit entries, nil for system actions.
func (i *Identity) ActorID() *string {
	if !i.Authenticated() {
		return nil
	}
	id := i.UserID
	return &id
}

// HasPermission reports whether the caller's role in the current gym carries perm.
func (i *Identity) HasPermission(perm rbac.Permission) bool {
	if i == nil || i.Role == nil {
		return false
	}
	return rbac.HasPermission(*i.Role, perm)
}

// WithIdentity stores ident on ctx.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, ident)
}

// FromContext returns the identity stored on ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	ident, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return ident
}

// FromRequest is FromContext for a request.
func FromRequest(r *http.Request) *Identity {
	return FromContext(r.Context())
}
