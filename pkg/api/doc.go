// Package api assembles the gymcore HTTP surface.
//
// # Overview
//
// Every /api route is declared once in a route table together with the
// requirement its callers must meet. The same table drives routing, the
// access guard and the startup audit drift report, so a route cannot be
// served without a declared requirement.
//
// # Request Pipeline
//
//	request id -> access log -> panic recovery -> metrics      (all routes)
//	rate limit -> identity -> access guard -> audit interceptor (/api routes)
//	-> handler
//
// The interceptor runs innermost so it only sees requests the guard let
// through, and records an audit entry after the handler succeeds.
//
// # Routes
//
// Built-in:
//
//	POST  /api/gyms                                     create a gym, caller becomes owner
//	GET   /api/gyms/mine                                gyms the caller is active in
//	GET   /api/gyms/{gymId}/activity                    viewer
//	GET   /api/gyms/{gymId}/audit                       admin
//	GET   /api/gyms/{gymId}/audit/actions               admin
//	GET   /api/gyms/{gymId}/audit/entities              admin
//	GET   /api/gyms/{gymId}/audit/export                audit.export
//	GET   /api/gyms/{gymId}/users                       users.view
//	POST  /api/gyms/{gymId}/users/invite                users.invite
//	POST  /api/gyms/{gymId}/users/accept                invited user
//	PATCH /api/gyms/{gymId}/users/{userId}/role         roles.manage
//	POST  /api/gyms/{gymId}/users/{userId}/suspend      users.suspend
//	POST  /api/gyms/{gymId}/users/{userId}/reactivate   users.suspend
//
// Business routes (members, memberships, payments, invoices, classes,
// trainers, plans, reports) are declared by BusinessRoutes and bound through
// Deps.Business. Unbound routes answer 501.
//
// Outside /api: /healthz, /readyz, /metrics, and the generated OpenAPI
// document at /openapi.yaml and /openapi.json with a Swagger UI at
// /swagger-ui.
package api
