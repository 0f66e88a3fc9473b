package gyms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

const cacheName = "gym_roles"

// noRole marks a cached lookup that resolved to no effective role.
const noRole = "-"

// CacheConfig sizes a RoleCache.
type CacheConfig struct {
	L1Size int
	L1TTL  time.Duration
	L2TTL  time.Duration
}

// DefaultCacheConfig returns the sizes used when none are configured.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{L1Size: 10000, L1TTL: 30 * time.Second, L2TTL: 5 * time.Minute}
}

// RoleCache remembers effective roles per (gym, user). L1 is an in-process
// expiring LRU; L2 is Redis, shared between replicas, and optional.
//
// Every Invalidate bumps a generation for the key, locally and in Redis. A
// fill started before an invalidation carries the old generation and is
// dropped, so a lookup racing a role change cannot cache the old role.
type RoleCache struct {
	l1      *lru.LRU[string, string]
	l2      redis.Cmdable
	l2TTL   time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger

	mu   sync.Mutex
	seq  uint64
	gens *lru.LRU[string, uint64]
}

// FillToken records the generation of a key before its binding is read.
type FillToken struct {
	key    string
	local  uint64
	shared string
	skipL2 bool
}

// fillIfCurrent writes the role only while the key's generation still
// matches the caller's snapshot.
var fillIfCurrent = redis.NewScript(`
if (redis.call("GET", KEYS[2]) or "") ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// NewRoleCache creates a cache. A nil l2 disables the Redis tier.
func NewRoleCache(cfg CacheConfig, l2 redis.Cmdable, metrics *observability.Metrics, logger *observability.Logger) *RoleCache {
	def := DefaultCacheConfig()
	if cfg.L1Size <= 0 {
		cfg.L1Size = def.L1Size
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = def.L1TTL
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = def.L2TTL
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &RoleCache{
		l1:      lru.NewLRU[string, string](cfg.L1Size, nil, cfg.L1TTL),
		l2:      l2,
		l2TTL:   cfg.L2TTL,
		metrics: metrics,
		logger:  logger.WithField("cache", cacheName),
		gens:    lru.NewLRU[string, uint64](cfg.L1Size, nil, cfg.L1TTL),
	}
}

func cacheKey(gymID, userID string) string {
	return fmt.Sprintf("gym:role:%s:%s", gymID, userID)
}

func genKey(key string) string {
	return key + ":gen"
}

func (c *RoleCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, _ := c.gens.Peek(key)
	return gen
}

// addL1 stores v unless key was invalidated after gen was read.
func (c *RoleCache) addL1(key, v string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, _ := c.gens.Peek(key); cur != gen {
		return false
	}
	c.l1.Add(key, v)
	return true
}

func encodeRole(role *rbac.Role) string {
	if role == nil {
		return noRole
	}
	return string(*role)
}

func decodeRole(v string) *rbac.Role {
	if v == noRole {
		return nil
	}
	r := rbac.Role(v)
	if !r.Valid() {
		return nil
	}
	return &r
}

// Get returns the cached role and whether there was an entry. A hit with a
// nil role means the user has no effective role in the gym. Redis errors
// count as misses.
func (c *RoleCache) Get(ctx context.Context, gymID, userID string) (*rbac.Role, bool) {
	key := cacheKey(gymID, userID)

	if v, ok := c.l1.Get(key); ok {
		c.metrics.CacheHitsTotal.WithLabelValues(cacheName, "l1").Inc()
		return decodeRole(v), true
	}

	if c.l2 != nil {
		gen := c.generation(key)
		v, err := c.l2.Get(ctx, key).Result()
		switch {
		case err == nil:
			c.metrics.CacheHitsTotal.WithLabelValues(cacheName, "l2").Inc()
			c.addL1(key, v, gen)
			return decodeRole(v), true
		case !errors.Is(err, redis.Nil):
			c.logger.WithError(err).Warn("Role cache read failed")
		}
	}

	c.metrics.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	return nil, false
}

// Token snapshots the generation of (gymID, userID). Take it before reading
// the binding and hand it to Fill afterwards. When the shared generation
// cannot be read the fill skips Redis.
func (c *RoleCache) Token(ctx context.Context, gymID, userID string) FillToken {
	key := cacheKey(gymID, userID)
	t := FillToken{key: key, local: c.generation(key)}
	if c.l2 != nil {
		v, err := c.l2.Get(ctx, genKey(key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("Role cache generation read failed")
			t.skipL2 = true
		}
		t.shared = v
	}
	return t
}

// Fill stores role under t's key in both tiers unless the key was
// invalidated since t was taken.
func (c *RoleCache) Fill(ctx context.Context, t FillToken, role *rbac.Role) {
	v := encodeRole(role)
	if !c.addL1(t.key, v, t.local) {
		c.metrics.CacheStaleFillsTotal.WithLabelValues(cacheName).Inc()
		return
	}
	if c.l2 == nil || t.skipL2 {
		return
	}
	stored, err := fillIfCurrent.Run(ctx, c.l2, []string{t.key, genKey(t.key)},
		t.shared, v, c.l2TTL.Milliseconds()).Int()
	switch {
	case err != nil:
		c.logger.WithError(err).Warn("Role cache write failed")
	case stored == 0:
		c.metrics.CacheStaleFillsTotal.WithLabelValues(cacheName).Inc()
	}
}

// Set stores role for (gymID, userID) in both tiers.
func (c *RoleCache) Set(ctx context.Context, gymID, userID string, role *rbac.Role) {
	c.Fill(ctx, c.Token(ctx, gymID, userID), role)
}

// Invalidate drops (gymID, userID) from both tiers and bumps its generation.
// Other replicas keep their L1 copy until its TTL expires.
func (c *RoleCache) Invalidate(ctx context.Context, gymID, userID string) {
	key := cacheKey(gymID, userID)

	c.mu.Lock()
	c.seq++
	c.gens.Add(key, c.seq)
	c.l1.Remove(key)
	c.mu.Unlock()

	if c.l2 != nil {
		_, err := c.l2.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, genKey(key))
			pipe.Expire(ctx, genKey(key), c.l2TTL)
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			c.logger.WithError(err).Warn("Role cache invalidation failed")
		}
	}
}

// Len is the number of L1 entries.
func (c *RoleCache) Len() int {
	return c.l1.Len()
}
