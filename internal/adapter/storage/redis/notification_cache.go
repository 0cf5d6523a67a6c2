package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NotificationCache implements ports.NotificationCache using Redis SET NX.
// It short-circuits redelivered push notifications before they reach the
// store; the store's compare-and-set remains the correctness backstop.
type NotificationCache struct {
	client *goredis.Client
	prefix string
}

// NewNotificationCache creates a new Redis-backed notification dedup cache.
func NewNotificationCache(client *goredis.Client) *NotificationCache {
	return &NotificationCache{
		client: client,
		prefix: "ipn:seen:",
	}
}

// MarkSeen atomically records a payload fingerprint. Returns true if this
// is the first sighting within the TTL.
func (c *NotificationCache) MarkSeen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	key := c.prefix + fingerprint
	result, err := c.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — payload was already delivered
			return false, nil
		}
		return false, fmt.Errorf("redis notification dedup: %w", err)
	}
	return result == "OK", nil
}
