package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

type stubRoles struct {
	roles map[string]rbac.Role
	err   error
	calls int
}

func (s *stubRoles) RoleFor(_ context.Context, gymID, userID string) (*rbac.Role, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	role, ok := s.roles[gymID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromRequest(r)
	_ = json.NewEncoder(w).Encode(ident)
}

func identityRouter(roles RoleLookup) *mux.Router {
	r := mux.NewRouter()
	r.Use(NewIdentityMiddleware(roles, observability.NewLogger(observability.ErrorLevel, io.Discard)).Handler)
	r.HandleFunc("/api/gyms/{gymId}/members", echoIdentity).Methods("GET")
	r.HandleFunc("/api/gyms/mine", echoIdentity).Methods("GET")
	return r
}

func decodeIdentity(t *testing.T, rr *httptest.ResponseRecorder) auth.Identity {
	t.Helper()
	var ident auth.Identity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ident))
	return ident
}

func TestIdentity_RequiresUser(t *testing.T) {
	roles := &stubRoles{}
	rr := httptest.NewRecorder()
	identityRouter(roles).ServeHTTP(rr, httptest.NewRequest("GET", "/api/gyms/gym-1/members", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rr.Body.String())
	assert.Zero(t, roles.calls)
}

func TestIdentity_GymFromPath(t *testing.T) {
	roles := &stubRoles{roles: map[string]rbac.Role{"gym-1/u1": rbac.RoleStaff}}
	req := httptest.NewRequest("GET", "/api/gyms/gym-1/members", nil)
	req.Header.Set(UserIDHeader, "u1")
	req.Header.Set(GymIDHeader, "gym-2")
	rr := httptest.NewRecorder()
	identityRouter(roles).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	ident := decodeIdentity(t, rr)
	assert.Equal(t, "u1", ident.UserID)
	assert.Equal(t, "gym-1", ident.GymID, "path variable wins over the session header")
	require.NotNil(t, ident.Role)
	assert.Equal(t, rbac.RoleStaff, *ident.Role)
}

func TestIdentity_GymFromHeader(t *testing.T) {
	roles := &stubRoles{roles: map[string]rbac.Role{"gym-2/u1": rbac.RoleViewer}}
	req := httptest.NewRequest("GET", "/api/gyms/mine", nil)
	req.Header.Set(UserIDHeader, "u1")
	req.Header.Set(GymIDHeader, "gym-2")
	rr := httptest.NewRecorder()
	identityRouter(roles).ServeHTTP(rr, req)

	ident := decodeIdentity(t, rr)
	assert.Equal(t, "gym-2", ident.GymID)
	require.NotNil(t, ident.Role)
	assert.Equal(t, rbac.RoleViewer, *ident.Role)
}

func TestIdentity_NoGymNoLookup(t *testing.T) {
	roles := &stubRoles{}
	req := httptest.NewRequest("GET", "/api/gyms/mine", nil)
	req.Header.Set(UserIDHeader, "u1")
	rr := httptest.NewRecorder()
	identityRouter(roles).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	ident := decodeIdentity(t, rr)
	assert.Empty(t, ident.GymID)
	assert.Nil(t, ident.Role)
	assert.Zero(t, roles.calls)
}

func TestIdentity_NoBinding(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/gyms/gym-9/members", nil)
	req.Header.Set(UserIDHeader, "u1")
	rr := httptest.NewRecorder()
	identityRouter(&stubRoles{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decodeIdentity(t, rr).Role)
}

func TestIdentity_LookupFailure(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/gyms/gym-1/members", nil)
	req.Header.Set(UserIDHeader, "u1")
	rr := httptest.NewRecorder()
	identityRouter(&stubRoles{err: errors.New("db down")}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "db down")
}
