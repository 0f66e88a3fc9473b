package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		gym_id TEXT NOT NULL,
		actor_user_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		ip_address TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_created ON audit_logs (gym_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_action ON audit_logs (gym_id, action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_entity ON audit_logs (gym_id, entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_actor ON audit_logs (gym_id, actor_user_id)`,
	`CREATE TABLE IF NOT EXISTS gym_users (
		id UUID PRIMARY KEY,
		gym_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'manager', 'staff', 'trainer', 'viewer')),
		status TEXT NOT NULL CHECK (status IN ('active', 'invited', 'suspended')),
		invited_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (gym_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_users_user ON gym_users (user_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		gym_id TEXT NOT NULL,
		actor_user_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		ip_address TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_created ON audit_logs (gym_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_action ON audit_logs (gym_id, action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_entity ON audit_logs (gym_id, entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_gym_actor ON audit_logs (gym_id, actor_user_id)`,
	`CREATE TABLE IF NOT EXISTS gym_users (
		id TEXT PRIMARY KEY,
		gym_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'manager', 'staff', 'trainer', 'viewer')),
		status TEXT NOT NULL CHECK (status IN ('active', 'invited', 'suspended')),
		invited_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (gym_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_users_user ON gym_users (user_id)`,
}

// Schema returns the DDL statements for dialect, in execution order.
func Schema(dialect Dialect) []string {
	if dialect == DialectSQLite {
		return sqliteSchema
	}
	return postgresSchema
}

// Migrate creates the audit_logs and gym_users tables and their indexes.
// Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for i, stmt := range Schema(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
