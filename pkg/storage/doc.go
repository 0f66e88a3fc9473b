// Package storage owns the connections gymcore persists through.
//
// A ConnectionManager wraps the primary database and any read replicas.
// Writes go to Primary; audit queries and role lookups read from Replica,
// which falls back to the primary when no replica is healthy. Both
// PostgreSQL (lib/pq) and SQLite (go-sqlite3) are supported. SQLite is
// meant for local development and tests.
//
// Migrate creates the audit_logs and gym_users tables. NewRedisClient and
// NewS3Client build the optional cache/idempotency store and the archive
// sink respectively.
package storage
