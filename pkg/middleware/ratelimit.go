package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/liftoff-labs/gymcore/pkg/async"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig applies to callers without a resolved user.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig applies per authenticated user across all gyms.
func PerUserRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-process token bucket limiter, one bucket per key.
type MemoryLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates a MemoryLimiter. Buckets refill at
// RequestsPerWindow per WindowDuration and hold up to RequestsPerWindow +
// BurstSize tokens.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) newBucket() *rate.Limiter {
	capacity := l.config.RequestsPerWindow + l.config.BurstSize
	if l.config.RequestsPerWindow <= 0 {
		return rate.NewLimiter(0, capacity)
	}
	every := l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow)
	return rate.NewLimiter(rate.Every(every), capacity)
}

// Allow never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: l.newBucket()}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

// Cleanup drops buckets idle for two windows.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.config.WindowDuration*2 {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done.
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	async.SafeGo(ctx, 0, "ratelimit-cleanup", func(ctx context.Context) error {
		ticker := time.NewTicker(l.config.WindowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	redis  redis.Cmdable
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix.
func NewRedisLimiter(client redis.Cmdable, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{redis: client, config: config, prefix: prefix}
}

// Allow counts the request in the current window. The window starts at the
// first request for key. A counter found without an expiry, left behind by a
// failed EXPIRE, gets one on the next request.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	if ttl.Val() < 0 {
		if err := l.redis.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis rate limit expiry: %w", err)
		}
	}
	return incr.Val() <= int64(l.config.RequestsPerWindow+l.config.BurstSize), nil
}

// RateLimitMiddleware limits authenticated callers per user and everyone
// else per client IP. When the shared limiter errors, the local fallback
// limiter decides instead.
type RateLimitMiddleware struct {
	user, anon                 Limiter
	userFallback, anonFallback *MemoryLimiter
	userConfig, anonConfig     RateLimitConfig
	metrics                    *observability.Metrics
	logger                     *observability.Logger
}

// NewRateLimitMiddleware uses Redis when client is non-nil and in-process
// buckets otherwise.
func NewRateLimitMiddleware(client redis.Cmdable, userCfg, anonCfg RateLimitConfig, metrics *observability.Metrics, logger *observability.Logger) *RateLimitMiddleware {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	m := &RateLimitMiddleware{
		userFallback: NewMemoryLimiter(userCfg),
		anonFallback: NewMemoryLimiter(anonCfg),
		userConfig:   userCfg,
		anonConfig:   anonCfg,
		metrics:      metrics,
		logger:       logger.WithField("component", "ratelimit"),
	}
	if client != nil {
		m.user = NewRedisLimiter(client, userCfg, "ratelimit:user")
		m.anon = NewRedisLimiter(client, anonCfg, "ratelimit:anon")
	} else {
		m.user = m.userFallback
		m.anon = m.anonFallback
	}
	return m
}

// StartCleanup prunes the in-process buckets until ctx is done.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	m.userFallback.StartCleanup(ctx)
	m.anonFallback.StartCleanup(ctx)
}

// Handler runs ahead of IdentityMiddleware so callers without an identity
// are limited per IP before they are turned away. Callers naming a user in
// UserIDHeader are limited per user.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		kind, key := "anon", "ip:"+httputil.ClientIP(r)
		limiter, fallback, cfg := m.anon, m.anonFallback, m.anonConfig
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			kind, key = "user", "user:"+userID
			limiter, fallback, cfg = m.user, m.userFallback, m.userConfig
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			m.logger.WithError(err).Warn("Shared rate limiter unavailable, using local limits")
			allowed, _ = fallback.Allow(ctx, key)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
		if !allowed {
			m.metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
