package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Guard enforces the requirement declared for the matched route. Routes
// missing from the table only need an authenticated caller.
type Guard struct {
	routes  *rbac.RouteTable
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewGuard creates a Guard over routes.
func NewGuard(routes *rbac.RouteTable, metrics *observability.Metrics, logger *observability.Logger) *Guard {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Guard{routes: routes, metrics: metrics, logger: logger.WithField("component", "guard")}
}

// Handler must run after IdentityMiddleware.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tmpl := ""
		if route := mux.CurrentRoute(r); route != nil {
			tmpl, _ = route.GetPathTemplate()
		}

		req, declared := g.routes.Lookup(r.Method, tmpl)
		if !declared {
			g.metrics.AuthzDecisionsTotal.WithLabelValues(tmpl, "undeclared").Inc()
			next.ServeHTTP(w, r)
			return
		}

		ident := auth.FromRequest(r)
		if !ident.Authenticated() {
			g.metrics.AuthzDecisionsTotal.WithLabelValues(tmpl, "unauthenticated").Inc()
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		err := rbac.Authorize(req, ident.Role)
		if err == nil {
			g.metrics.AuthzDecisionsTotal.WithLabelValues(tmpl, "allow").Inc()
			next.ServeHTTP(w, r)
			return
		}

		var denied *rbac.AccessError
		if !errors.As(err, &denied) {
			g.logger.WithError(err).Error("Authorization check failed")
			httputil.WriteInternalError(w)
			return
		}

		g.metrics.AuthzDecisionsTotal.WithLabelValues(tmpl, "deny").Inc()
		role := "none"
		if ident.Role != nil {
			role = string(*ident.Role)
		}
		g.logger.WithFields(map[string]interface{}{
			"route":       rbac.RouteKey(r.Method, tmpl),
			"user_id":     ident.UserID,
			"gym_id":      ident.GymID,
			"role":        role,
			"requirement": req.String(),
		}).Debug("Access denied")
		httputil.WriteForbidden(w, denied.Reason)
	})
}
