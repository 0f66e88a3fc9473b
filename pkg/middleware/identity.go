package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Identity headers set by the upstream authenticating proxy.
const (
	UserIDHeader = "X-User-ID"
	GymIDHeader  = "X-Gym-ID"
)

// RoleLookup resolves a user's effective role in a gym. A nil role with a
// nil error means the user has no active binding there.
type RoleLookup interface {
	RoleFor(ctx context.Context, gymID, userID string) (*rbac.Role, error)
}

// IdentityMiddleware resolves the (user, gym, role) triple for each request
// and stores it on the context.
type IdentityMiddleware struct {
	roles  RoleLookup
	logger *observability.Logger
}

// NewIdentityMiddleware creates an IdentityMiddleware backed by roles.
func NewIdentityMiddleware(roles RoleLookup, logger *observability.Logger) *IdentityMiddleware {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &IdentityMiddleware{roles: roles, logger: logger}
}

// Handler must run inside a mux router so the gymId path variable is set.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		gymID := mux.Vars(r)["gymId"]
		if gymID == "" {
			gymID = strings.TrimSpace(r.Header.Get(GymIDHeader))
		}

		ident := &auth.Identity{UserID: userID, GymID: gymID}
		if gymID != "" {
			role, err := m.roles.RoleFor(r.Context(), gymID, userID)
			if err != nil {
				m.logger.WithError(err).WithFields(map[string]interface{}{
					"user_id": userID,
					"gym_id":  gymID,
				}).Error("Failed to resolve gym role")
				httputil.WriteInternalError(w)
				return
			}
			ident.Role = role
		}

		ctx := auth.WithIdentity(r.Context(), ident)
		log := observability.GetLogger(ctx).WithFields(map[string]interface{}{
			"user_id": userID,
			"gym_id":  gymID,
		})
		ctx = observability.WithLogger(ctx, log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
