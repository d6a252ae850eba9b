package submission

import (
	"context"
	"time"

	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// DedupCache remembers dedup keys of completed submissions so redelivered
// messages can be skipped without touching Postgres. It is an optimization
// only: the unique index on dedup_key remains the correctness guarantee, so
// cache misses and Redis outages are harmless.
type DedupCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupCache(client *redis.Client, ttl time.Duration) *DedupCache {
	return &DedupCache{client: client, ttl: ttl}
}

func (c *DedupCache) Seen(ctx context.Context, dedupKey string) bool {
	if c == nil || c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, c.key(dedupKey)).Result()
	if err != nil {
		logger.Log.WithError(err).Debug("dedup cache lookup failed")
		return false
	}
	return n > 0
}

func (c *DedupCache) MarkSeen(ctx context.Context, dedupKey string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(dedupKey), "1", c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("dedup cache write failed")
	}
}

func (c *DedupCache) key(dedupKey string) string {
	return "grader:dedup:" + dedupKey
}
