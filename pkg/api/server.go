package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/liftoff-labs/gymcore/pkg/audit"
	"github.com/liftoff-labs/gymcore/pkg/gyms"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/middleware"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
	"github.com/liftoff-labs/gymcore/pkg/swagger"
)

// Deps is everything the server is assembled from. Identity, Audit and Gyms
// are required. A nil Interceptor disables audit recording, a nil RateLimit
// disables limiting and a nil Health or Gatherer drops the matching
// endpoints.
type Deps struct {
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Health      *observability.HealthChecker
	Identity    *middleware.IdentityMiddleware
	RateLimit   *middleware.RateLimitMiddleware
	Interceptor *audit.Interceptor
	Audit       *audit.Handlers
	Gyms        *gyms.Handlers

	// Business binds BusinessRoutes by Route.Key().
	Business map[string]http.Handler

	// Version is reported in the generated OpenAPI document.
	Version string
}

// Server is the gymcore HTTP surface.
type Server struct {
	router  *mux.Router
	handler http.Handler
	routes  *rbac.RouteTable
	rules   audit.Rules
	logger  *observability.Logger
}

// NewServer builds the router: request id, access log, panic recovery and
// metrics on every route, then rate limit, identity, access guard and audit
// interception on /api routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Identity == nil || deps.Audit == nil || deps.Gyms == nil {
		return nil, fmt.Errorf("api: identity, audit and gyms handlers are required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.GetLogger(context.Background())
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}

	builtin := BuiltinRoutes()
	business := BusinessRoutes()
	routes, err := NewRouteTable(builtin, business)
	if err != nil {
		return nil, err
	}
	if err := checkBindings(deps.Business, business); err != nil {
		return nil, err
	}

	s := &Server{
		router: mux.NewRouter(),
		routes: routes,
		rules:  audit.DefaultRules(),
		logger: deps.Logger,
	}
	if deps.Interceptor != nil {
		s.rules = deps.Interceptor.Rules()
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not found")
	})
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		observability.HTTPMetricsMiddleware(deps.Metrics),
	)

	if deps.Health != nil {
		s.router.HandleFunc("/healthz", deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", deps.Health.Readiness).Methods(http.MethodGet)
	}
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Gatherer)).Methods(http.MethodGet)
	}

	docs, err := swagger.NewSwaggerHandlers(s.OpenAPI(deps.Version))
	if err != nil {
		return nil, fmt.Errorf("api: render openapi document: %w", err)
	}
	docs.RegisterRoutes(s.router)

	api := s.router.PathPrefix(apiPrefix).Subrouter()
	if deps.RateLimit != nil {
		api.Use(deps.RateLimit.Handler)
	}
	api.Use(deps.Identity.Handler)
	api.Use(middleware.NewGuard(routes, deps.Metrics, deps.Logger).Handler)
	if deps.Interceptor != nil {
		api.Use(deps.Interceptor.Middleware)
	}

	builtinHandlers := map[string]http.HandlerFunc{
		RouteCreateGym.Key():       deps.Gyms.Create,
		RouteMyGyms.Key():          deps.Gyms.Mine,
		RouteActivity.Key():        deps.Audit.Activity,
		RouteAuditList.Key():       deps.Audit.List,
		RouteAuditActions.Key():    deps.Audit.Actions,
		RouteAuditEntities.Key():   deps.Audit.Entities,
		RouteAuditExport.Key():     deps.Audit.Export,
		RouteUsersList.Key():       deps.Gyms.List,
		RouteUsersInvite.Key():     deps.Gyms.Invite,
		RouteUsersAccept.Key():     deps.Gyms.Accept,
		RouteUsersRole.Key():       deps.Gyms.ChangeRole,
		RouteUsersSuspend.Key():    deps.Gyms.Suspend,
		RouteUsersReactivate.Key(): deps.Gyms.Reactivate,
	}
	for _, r := range builtin {
		api.Handle(strings.TrimPrefix(r.Path, apiPrefix), builtinHandlers[r.Key()]).Methods(r.Method)
	}
	for _, r := range business {
		h, ok := deps.Business[r.Key()]
		if !ok {
			h = http.HandlerFunc(notImplemented)
		}
		api.Handle(strings.TrimPrefix(r.Path, apiPrefix), h).Methods(r.Method)
	}

	s.handler = otelhttp.NewHandler(s.router, "gymcore.http")
	return s, nil
}

func checkBindings(bound map[string]http.Handler, business []Route) error {
	known := make(map[string]struct{}, len(business))
	for _, r := range business {
		known[r.Key()] = struct{}{}
	}
	var unknown []string
	for key := range bound {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("api: handlers bound to undeclared routes: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotImplemented(w)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Routes returns the declared route table.
func (s *Server) Routes() *rbac.RouteTable {
	return s.routes
}

// OpenAPI describes every declared route with its access requirement and
// the audit action it records.
func (s *Server) OpenAPI(version string) *swagger.Document {
	if version == "" {
		version = "dev"
	}
	var ops []swagger.Operation
	for _, group := range [][]Route{BuiltinRoutes(), BusinessRoutes()} {
		for _, r := range group {
			op := swagger.Operation{Method: r.Method, Path: r.Path}
			if !r.Requirement.IsZero() {
				op.Requires = r.Requirement.String()
			}
			if rule, ok := s.rules.Lookup(r.Method, r.Path); ok {
				op.AuditAction = string(rule.Action)
			}
			ops = append(ops, op)
		}
	}
	return swagger.Build("gymcore", version, middleware.UserIDHeader, ops)
}

// AuditDrift lists mutating routes that have neither an audit rule nor an
// exemption. They silently go unaudited.
func (s *Server) AuditDrift() []string {
	return audit.UncoveredRoutes(s.routes.Keys(), s.rules, AuditExemptRoutes()...)
}

// LogAuditDrift warns once per uncovered route.
func (s *Server) LogAuditDrift() {
	for _, key := range s.AuditDrift() {
		s.logger.WithField("route", key).Warn("Mutating route has no audit rule")
	}
}
