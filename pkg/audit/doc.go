// Package audit records and queries the per-gym audit trail.
//
// # Overview
//
// Every entry belongs to exactly one gym and is never updated or deleted.
// Entries are written in two ways: business services call Recorder.Record
// directly (role changes, invitations, suspensions), and the Interceptor
// records completed calls to audited HTTP routes using a static rule table.
//
// # Recording
//
//	rec := audit.NewRecorder(audit.NewSQLStore(conns, metrics), audit.WithMetrics(metrics))
//	_, err := rec.Record(ctx, gymID, &actorID, audit.Event{
//		Action:     audit.ActionRoleChanged,
//		EntityType: audit.EntityUser,
//		EntityID:   &targetUserID,
//		Metadata:   map[string]interface{}{"from": "staff", "to": "manager"},
//	}, nil)
//
// # Route interception
//
// The interceptor runs after the handler. It only records 2xx responses,
// derives the entity id from the response body or the {id} path variable,
// and stores the request body with credential fields removed. Failures are
// logged and counted; the response is never changed.
//
//	router.Use(audit.NewInterceptor(rec, audit.InterceptorConfig{}).Middleware)
//
// Replays are suppressed twice over: a response with "duplicate": true is
// skipped, and with Redis configured an Idempotency-Key header is claimed
// once per gym for the dedupe TTL.
//
// # Querying
//
// Query pages through a gym's entries newest first (default limit 50, max
// 100). ActionCounts and EntityTypeCounts feed filter dropdowns, Recent
// feeds the activity panel, and Walk streams a filtered export.
package audit
