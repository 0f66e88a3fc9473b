package storage

import (
	"fmt"
	"strings"
	"time"
)

// Dialect identifies the SQL backend. Both dialects accept $n placeholders.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect accepts "postgres"/"postgresql" and "sqlite"/"sqlite3".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// Config for storage backends
type Config struct {
	// SQL database
	Driver       Dialect       `yaml:"driver"`
	DatabaseURL  string        `yaml:"database_url"`
	ReplicaURLs  []string      `yaml:"replica_urls"`
	MaxConns     int           `yaml:"max_conns"`
	MinConns     int           `yaml:"min_conns"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
	AutoMigrate  bool          `yaml:"auto_migrate"`

	// Redis config; empty URL disables Redis
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// S3 config; empty bucket disables the archive sink
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DialectPostgres,
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		AutoMigrate:     true,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		S3Region:        "us-east-1",
	}
}

// RedisEnabled reports whether a Redis URL was configured.
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// S3Enabled reports whether an archive bucket was configured.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}
