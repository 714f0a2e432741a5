package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthCache caches gateway availability probes in Redis so hot
// checkout paths don't ping providers on every request. A nil client is
// valid and disables caching.
type HealthCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHealthCache creates a health cache with the given TTL.
func NewHealthCache(client *redis.Client, ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HealthCache{client: client, ttl: ttl}
}

func key(provider string) string {
	return "payment-engine:gateway-health:" + provider
}

// Get returns the cached availability for a provider. ok is false on a
// cache miss or any Redis error (the caller then probes directly).
func (c *HealthCache) Get(ctx context.Context, provider string) (available bool, ok bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	val, err := c.client.Get(ctx, key(provider)).Result()
	if err != nil {
		return false, false
	}
	return val == "up", true
}

// Set records a probe result.
func (c *HealthCache) Set(ctx context.Context, provider string, available bool) {
	if c == nil || c.client == nil {
		return
	}
	val := "down"
	if available {
		val = "up"
	}
	c.client.Set(ctx, key(provider), val, c.ttl)
}
