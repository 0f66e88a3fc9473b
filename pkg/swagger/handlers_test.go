package swagger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testOps = []Operation{
	{Method: "POST", Path: "/api/gyms"},
	{Method: "GET", Path: "/api/gyms/{gymId}/members/{id}", Requires: "viewer"},
	{Method: "DELETE", Path: "/api/gyms/{gymId}/members/{id}", Requires: "manager", AuditAction: "member.deleted"},
}

func TestBuild(t *testing.T) {
	doc := Build("gymcore", "1.2.3", "X-User-ID", testOps)

	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "X-User-ID", doc.Components.SecuritySchemes["userId"].Name)
	require.Len(t, doc.Paths, 2)

	member := doc.Paths["/api/gyms/{gymId}/members/{id}"]
	require.Len(t, member, 2)
	del := member["delete"]
	assert.Equal(t, "deleteGymsGymIdMembersId", del.OperationID)
	assert.Equal(t, []string{"members"}, del.Tags)
	assert.Equal(t, "manager", del.RequiredAccess)
	assert.Equal(t, "member.deleted", del.AuditAction)
	require.Len(t, del.Parameters, 2)
	assert.Equal(t, "gymId", del.Parameters[0].Name)
	assert.Equal(t, "id", del.Parameters[1].Name)
	assert.Empty(t, member["get"].AuditAction)

	create := doc.Paths["/api/gyms"]["post"]
	assert.Equal(t, []string{"gyms"}, create.Tags)
	assert.Empty(t, create.Parameters)
}

func TestRegisterRoutes(t *testing.T) {
	handlers, err := NewSwaggerHandlers(Build("gymcore", "dev", "X-User-ID", testOps))
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/gyms", "/api/gyms/{gymId}/members/{id}"}, handlers.Paths())

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	tests := []struct {
		name        string
		path        string
		contentType string
	}{
		{"OpenAPI YAML endpoint", "/openapi.yaml", "application/x-yaml"},
		{"OpenAPI JSON endpoint", "/openapi.json", "application/json"},
		{"Swagger UI endpoint", "/swagger-ui", "text/html; charset=utf-8"},
		{"API docs alias endpoint", "/api-docs", "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), tt.contentType)
		})
	}
}

func TestServedDocumentsAgree(t *testing.T) {
	handlers, err := NewSwaggerHandlers(Build("gymcore", "dev", "X-User-ID", testOps))
	require.NoError(t, err)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	get := func(path string) []byte {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		return rr.Body.Bytes()
	}

	var fromYAML, fromJSON Document
	require.NoError(t, yaml.Unmarshal(get("/openapi.yaml"), &fromYAML))
	require.NoError(t, json.Unmarshal(get("/openapi.json"), &fromJSON))
	assert.Equal(t, fromYAML, fromJSON)
	assert.Equal(t, "member.deleted", fromJSON.Paths["/api/gyms/{gymId}/members/{id}"]["delete"].AuditAction)

	assert.Contains(t, string(get("/swagger-ui")), "<title>gymcore - Swagger UI</title>")
}
