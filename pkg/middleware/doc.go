// Package middleware resolves who is calling and decides whether they may.
//
// # Middleware Components
//
// IdentityMiddleware: reads X-User-ID (set by the authenticating proxy),
// picks the gym from the {gymId} path variable or the X-Gym-ID header and
// resolves the caller's role in that gym.
//
//	router.Use(middleware.NewIdentityMiddleware(gymService, logger).Handler)
//
// RateLimitMiddleware: per-user limits, per-IP for unknown callers. Backed
// by Redis when available, falling back to in-process token buckets.
//
// Guard: enforces the requirement declared for the matched route in an
// rbac.RouteTable and answers 403 {"error": reason} on denial.
//
//	router.Use(middleware.NewGuard(routes, metrics, logger).Handler)
//
// All three must be registered with router.Use so the matched mux route is
// known when they run.
//
// # Rate Limiting
//
// Default (anonymous): 100 req/min, 10 burst
// Per-User: 600 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/rbac: Requirements and route table
//   - pkg/gyms: Role lookup
//   - pkg/auth: Request identity
package middleware
