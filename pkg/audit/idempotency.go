package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyHeader carries the client's replay key.
const IdempotencyHeader = "Idempotency-Key"

// DefaultIdempotencyTTL is how long a claimed key suppresses duplicates.
const DefaultIdempotencyTTL = 24 * time.Hour

// Deduper claims idempotency keys in Redis so a replayed request records at
// most one audit entry per gym and key.
type Deduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewDeduper creates a Deduper. A non-positive ttl uses DefaultIdempotencyTTL.
func NewDeduper(client redis.Cmdable, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

func idempotencyKey(gymID, key string) string {
	return fmt.Sprintf("audit:idem:%s:%s", gymID, key)
}

// Claim returns true when this is the first time key is seen for gymID
// within the TTL.
func (d *Deduper) Claim(ctx context.Context, gymID, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, idempotencyKey(gymID, key), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a retry after a failed write is recorded.
func (d *Deduper) Release(ctx context.Context, gymID, key string) error {
	if err := d.client.Del(ctx, idempotencyKey(gymID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
