package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/storage"
)

// FileEnv names the optional YAML overlay file.
const FileEnv = "GYMCORE_CONFIG_FILE"

// Dispatch modes for audit writes.
const (
	DispatchInline = "inline"
	DispatchPool   = "pool"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
	Cache         CacheConfig         `yaml:"cache"`
	Archive       ArchiveConfig       `yaml:"archive"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses LogLevel, defaulting to info.
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, _ := observability.ParseLogLevel(o.LogLevel)
	return level
}

// OTel converts the settings for observability.InitOTel.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// AuditConfig controls how intercepted mutations are persisted.
type AuditConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Dispatch       string        `yaml:"dispatch"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BodyLimit      int64         `yaml:"body_limit"`
	PoolWorkers    int           `yaml:"pool_workers"`
	PoolQueue      int           `yaml:"pool_queue"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	ExportMaxRows  int           `yaml:"export_max_rows"`
}

// CacheConfig sizes the role binding cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	L1Size  int           `yaml:"l1_size"`
	L1TTL   time.Duration `yaml:"l1_ttl"`
	L2TTL   time.Duration `yaml:"l2_ttl"`
}

// ArchiveConfig schedules the nightly export of audit entries to S3.
type ArchiveConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	Window      time.Duration `yaml:"window"`
	Concurrency int           `yaml:"concurrency"`
	Prefix      string        `yaml:"prefix"`
}

// RateLimitConfig budgets /api requests per user, or per client IP when no
// user is resolved.
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Window       time.Duration `yaml:"window"`
	UserRequests int           `yaml:"user_requests"`
	UserBurst    int           `yaml:"user_burst"`
	AnonRequests int           `yaml:"anon_requests"`
	AnonBurst    int           `yaml:"anon_burst"`
}

// Default returns the configuration used before any file or env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gymcore",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
		Audit: AuditConfig{
			Enabled:        true,
			Dispatch:       DispatchInline,
			WriteTimeout:   2 * time.Second,
			BodyLimit:      1 << 20,
			PoolWorkers:    4,
			PoolQueue:      256,
			IdempotencyTTL: 24 * time.Hour,
			ExportMaxRows:  10000,
		},
		Cache: CacheConfig{
			Enabled: true,
			L1Size:  10000,
			L1TTL:   30 * time.Second,
			L2TTL:   5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Schedule:    "0 3 * * *",
			Window:      24 * time.Hour,
			Concurrency: 4,
			Prefix:      "audit",
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Window:       time.Minute,
			UserRequests: 600,
			UserBurst:    50,
			AnonRequests: 100,
			AnonBurst:    10,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by GYMCORE_CONFIG_FILE, and GYMCORE_* environment variables, in
// that order of precedence (last wins).
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile reads defaults overlaid with a YAML file. Environment variables
// are not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("GYMCORE_HOST", s.Host)
	s.Port = getEnv("GYMCORE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GYMCORE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GYMCORE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GYMCORE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GYMCORE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("GYMCORE_HEALTH_PORT", s.HealthPort)

	st := &c.Storage
	if driver := getEnv("GYMCORE_DB_DRIVER", ""); driver != "" {
		st.Driver = storage.Dialect(driver)
	}
	st.DatabaseURL = getEnv("GYMCORE_DATABASE_URL", st.DatabaseURL)
	if replicas := getEnv("GYMCORE_DATABASE_REPLICA_URLS", ""); replicas != "" {
		st.ReplicaURLs = splitList(replicas)
	}
	st.MaxConns = getEnvInt("GYMCORE_DB_MAX_CONNS", st.MaxConns)
	st.MinConns = getEnvInt("GYMCORE_DB_MIN_CONNS", st.MinConns)
	st.Timeout = getEnvDuration("GYMCORE_DB_TIMEOUT", st.Timeout)
	st.AutoMigrate = getEnvBool("GYMCORE_DB_AUTO_MIGRATE", st.AutoMigrate)

	st.RedisURL = getEnv("GYMCORE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("GYMCORE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("GYMCORE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("GYMCORE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("GYMCORE_REDIS_POOL_SIZE", st.RedisPoolSize)

	st.S3Endpoint = getEnv("GYMCORE_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("GYMCORE_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("GYMCORE_S3_BUCKET", st.S3Bucket)
	st.S3AccessKey = getEnv("GYMCORE_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("GYMCORE_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("GYMCORE_S3_USE_PATH_STYLE", st.S3UsePathStyle)

	o := &c.Observability
	o.LogLevel = getEnv("GYMCORE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("GYMCORE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GYMCORE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GYMCORE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GYMCORE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GYMCORE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GYMCORE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GYMCORE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	a := &c.Audit
	a.Enabled = getEnvBool("GYMCORE_AUDIT_ENABLED", a.Enabled)
	a.Dispatch = getEnv("GYMCORE_AUDIT_DISPATCH", a.Dispatch)
	a.WriteTimeout = getEnvDuration("GYMCORE_AUDIT_WRITE_TIMEOUT", a.WriteTimeout)
	a.BodyLimit = getEnvInt64("GYMCORE_AUDIT_BODY_LIMIT", a.BodyLimit)
	a.PoolWorkers = getEnvInt("GYMCORE_AUDIT_POOL_WORKERS", a.PoolWorkers)
	a.PoolQueue = getEnvInt("GYMCORE_AUDIT_POOL_QUEUE", a.PoolQueue)
	a.IdempotencyTTL = getEnvDuration("GYMCORE_AUDIT_IDEMPOTENCY_TTL", a.IdempotencyTTL)
	a.ExportMaxRows = getEnvInt("GYMCORE_AUDIT_EXPORT_MAX_ROWS", a.ExportMaxRows)

	ca := &c.Cache
	ca.Enabled = getEnvBool("GYMCORE_CACHE_ENABLED", ca.Enabled)
	ca.L1Size = getEnvInt("GYMCORE_CACHE_L1_SIZE", ca.L1Size)
	ca.L1TTL = getEnvDuration("GYMCORE_CACHE_L1_TTL", ca.L1TTL)
	ca.L2TTL = getEnvDuration("GYMCORE_CACHE_L2_TTL", ca.L2TTL)

	ar := &c.Archive
	ar.Enabled = getEnvBool("GYMCORE_ARCHIVE_ENABLED", ar.Enabled)
	ar.Schedule = getEnv("GYMCORE_ARCHIVE_SCHEDULE", ar.Schedule)
	ar.Window = getEnvDuration("GYMCORE_ARCHIVE_WINDOW", ar.Window)
	ar.Concurrency = getEnvInt("GYMCORE_ARCHIVE_CONCURRENCY", ar.Concurrency)
	ar.Prefix = getEnv("GYMCORE_ARCHIVE_PREFIX", ar.Prefix)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("GYMCORE_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Window = getEnvDuration("GYMCORE_RATE_LIMIT_WINDOW", rl.Window)
	rl.UserRequests = getEnvInt("GYMCORE_RATE_LIMIT_USER_REQUESTS", rl.UserRequests)
	rl.UserBurst = getEnvInt("GYMCORE_RATE_LIMIT_USER_BURST", rl.UserBurst)
	rl.AnonRequests = getEnvInt("GYMCORE_RATE_LIMIT_ANON_REQUESTS", rl.AnonRequests)
	rl.AnonBurst = getEnvInt("GYMCORE_RATE_LIMIT_ANON_BURST", rl.AnonBurst)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if _, err := storage.ParseDialect(string(c.Storage.Driver)); err != nil {
		return err
	}
	if c.Storage.DatabaseURL == "" {
		return errors.New("database URL is required")
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	switch c.Audit.Dispatch {
	case DispatchInline:
	case DispatchPool:
		if c.Audit.PoolWorkers <= 0 {
			return errors.New("audit pool workers must be positive in pool dispatch mode")
		}
	default:
		return fmt.Errorf("invalid audit dispatch mode: %s (must be inline or pool)", c.Audit.Dispatch)
	}
	if c.Audit.WriteTimeout <= 0 {
		return errors.New("audit write timeout must be positive")
	}
	if c.Audit.BodyLimit <= 0 {
		return errors.New("audit body limit must be positive")
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return errors.New("cache L1 size must be positive when caching is enabled")
	}

	if c.Archive.Enabled {
		if !c.Storage.S3Enabled() {
			return errors.New("S3 bucket is required when the archive is enabled")
		}
		if c.Archive.Schedule == "" {
			return errors.New("archive schedule is required when the archive is enabled")
		}
		if c.Archive.Window <= 0 {
			return errors.New("archive window must be positive")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("rate limit window must be positive")
		}
		if c.RateLimit.UserRequests <= 0 || c.RateLimit.AnonRequests <= 0 {
			return errors.New("rate limit request budgets must be positive")
		}
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
