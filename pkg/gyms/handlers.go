package gyms

import (
	"context"
	"errors"
	"net/http"

	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Handlers serves gym user management.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates gym user handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Handlers{service: service, logger: logger.WithField("component", "gyms")}
}

// Mine handles GET /gyms/mine
func (h *Handlers) Mine(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromRequest(r)
	if !ident.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	bindings, err := h.service.GymsFor(r.Context(), ident.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"gyms": bindings})
}

// Create handles POST /gyms. The caller becomes the gym's owner.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromRequest(r)
	if !ident.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req CreateGymRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	gymID := req.GymID
	if gymID == "" {
		gymID = h.service.newID()
	}

	u, err := h.service.Bootstrap(r.Context(), gymID, ident.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteCreated(w, map[string]interface{}{
		"success": true,
		"gym":     map[string]string{"id": gymID},
		"user":    u,
	})
}

// List handles GET /gyms/{gymId}/users
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context(), httputil.PathVar(r, "gymId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// Invite handles POST /gyms/{gymId}/users/invite
func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	u, err := h.service.Invite(r.Context(), actor, httputil.PathVar(r, "gymId"), req.UserID, role)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteCreated(w, map[string]interface{}{"success": true, "user": u})
}

// Accept handles POST /gyms/{gymId}/users/accept
func (h *Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromRequest(r)
	if !ident.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	u, err := h.service.Accept(r.Context(), httputil.PathVar(r, "gymId"), ident.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"success": true, "user": u})
}

// ChangeRole handles PATCH /gyms/{gymId}/users/{userId}/role
func (h *Handlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req ChangeRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	u, err := h.service.ChangeRole(r.Context(), actor, httputil.PathVar(r, "gymId"), httputil.PathVar(r, "userId"), role)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"success": true, "user": u})
}

// Suspend handles POST /gyms/{gymId}/users/{userId}/suspend
func (h *Handlers) Suspend(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.Suspend)
}

// Reactivate handles POST /gyms/{gymId}/users/{userId}/reactivate
func (h *Handlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.Reactivate)
}

type statusFunc func(ctx context.Context, actor Actor, gymID, userID string) (*GymUser, error)

func (h *Handlers) statusChange(w http.ResponseWriter, r *http.Request, change statusFunc) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	u, err := change(r.Context(), actor, httputil.PathVar(r, "gymId"), httputil.PathVar(r, "userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"success": true, "user": u})
}

// actorFrom builds the acting user from the request identity. Routes using
// it sit behind the access guard, so a missing role is a 403.
func actorFrom(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	ident := auth.FromRequest(r)
	if !ident.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return Actor{}, false
	}
	if ident.Role == nil {
		httputil.WriteForbidden(w, "No role assigned")
		return Actor{}, false
	}
	return Actor{UserID: ident.UserID, Role: *ident.Role, IP: httputil.ClientIP(r)}, true
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	var manageErr *ManageError
	var transErr *TransitionError
	switch {
	case errors.As(err, &manageErr):
		httputil.WriteForbidden(w, manageErr.Reason)
	case errors.As(err, &transErr):
		httputil.WriteConflict(w, transErr.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, "gym user not found")
	case errors.Is(err, ErrBindingExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, rbac.ErrUnknownRole), errors.Is(err, ErrInvalidRequest):
		httputil.WriteBadRequest(w, err.Error())
	default:
		h.logger.WithError(err).Error("Gym user operation failed")
		httputil.WriteInternalError(w)
	}
}
