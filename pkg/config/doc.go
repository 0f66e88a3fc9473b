// Package config loads gymcore's configuration.
//
// Values come from three layers, later layers winning: built-in defaults,
// an optional YAML file named by GYMCORE_CONFIG_FILE, and GYMCORE_*
// environment variables. LoadConfig validates the merged result.
//
// Common variables:
//
//	GYMCORE_PORT="8080"
//	GYMCORE_HEALTH_PORT="9090"
//	GYMCORE_DB_DRIVER="postgres"       # or sqlite3
//	GYMCORE_DATABASE_URL="postgres://localhost/gymcore?sslmode=disable"
//	GYMCORE_REDIS_URL="redis://localhost:6379"
//	GYMCORE_LOG_LEVEL="info"
//	GYMCORE_AUDIT_DISPATCH="inline"    # or pool
//	GYMCORE_ARCHIVE_ENABLED="true"
//	GYMCORE_S3_BUCKET="gym-audit-archive"
//
// Watch follows the YAML file and re-applies it at runtime. Only the log
// level is hot-reloadable; everything else requires a restart.
package config
