// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, page)
//	httputil.WriteForbidden(w, "Insufficient permissions")
//	httputil.WriteInternalError(w) // never leaks the cause
//
// Every error body has the shape {"error": "..."}.
//
// # Request Helpers
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//	from, err := httputil.ParseQueryTime(r, "fromDate", false)
//	gymID := httputil.PathVar(r, "gymId")
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
