// Package auth carries the caller identity that the rest of gymcore works with.
//
// Authentication itself happens upstream (gateway or session layer). By the
// time a request reaches gymcore it has been reduced to an Identity: the acting
// user, the gym the request is scoped to, and the role that user holds in that
// gym. Any of the three may be absent:
//
//	ident := auth.FromContext(r.Context())
//	if ident == nil || ident.UserID == "" {
//		// unauthenticated, rejected before the access guard runs
//	}
//	if ident.Role == nil {
//		// authenticated but not bound to this gym
//	}
package auth
