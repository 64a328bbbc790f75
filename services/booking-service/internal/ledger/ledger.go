// Package ledger caches "already applied" markers in Redis so duplicate deliveries can
// be dropped before touching PostgreSQL. processed_events remains the source of truth:
// a cache miss or a Redis outage only costs a database round trip.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// New returns a cache backed by rdb. A nil client yields a cache that never hits.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, prefix: "ledger:", logger: logger}
}

func (c *Cache) key(bookingID, eventKey string) string {
	return c.prefix + bookingID + ":" + eventKey
}

// Seen reports whether any of keys was recorded for bookingID.
func (c *Cache) Seen(ctx context.Context, bookingID string, keys ...string) bool {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return false
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(bookingID, k)
	}
	n, err := c.rdb.Exists(ctx, full...).Result()
	if err != nil {
		c.logger.Warn("ledger cache lookup failed", "booking_id", bookingID, "err", err)
		return false
	}
	return n > 0
}

// Mark records keys for bookingID. Failures are logged and otherwise ignored.
func (c *Cache) Mark(ctx context.Context, bookingID string, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, c.key(bookingID, k), 1, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("ledger cache write failed", "booking_id", bookingID, "err", err)
	}
}
