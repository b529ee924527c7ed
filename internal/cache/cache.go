// Package cache is a thin Redis read cache for daily summaries. All
// operations are best-effort and tolerate a nil client, so the API (and
// its tests) can run without Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"vocabsync/internal/models"
)

const ttl = 5 * time.Minute

type SummaryCache struct {
	rdb *redis.Client
}

// New wraps a Redis client; rdb may be nil, which disables the cache.
func New(rdb *redis.Client) *SummaryCache {
	return &SummaryCache{rdb: rdb}
}

func key(userID, date string) string {
	return "summary:" + userID + ":" + date
}

// Get returns the cached summary, or false on miss, disablement, or error.
func (c *SummaryCache) Get(ctx context.Context, userID, date string) (models.DailySummary, bool) {
	var sum models.DailySummary
	if c.rdb == nil {
		return sum, false
	}
	raw, err := c.rdb.Get(ctx, key(userID, date)).Bytes()
	if err != nil {
		return sum, false
	}
	if err := json.Unmarshal(raw, &sum); err != nil {
		return sum, false
	}
	return sum, true
}

// Set caches a summary with a short TTL, best-effort.
func (c *SummaryCache) Set(ctx context.Context, sum models.DailySummary) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, key(sum.UserID, sum.Date), raw, ttl).Err()
}

// Invalidate drops the cached entry after a write.
func (c *SummaryCache) Invalidate(ctx context.Context, userID, date string) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, key(userID, date)).Err()
}

// Ping reports Redis health; a disabled cache is healthy.
func (c *SummaryCache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}
