package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"concord/pkg/platform/sentinel"
)

var _ Cache = (*RedisCache)(nil)

// RedisCache fronts center resolution with a TTL'd Redis cache. Entries are
// keyed by the normalized raw name.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(normalized string) string {
	return "concord:center:" + normalized
}

func (c *RedisCache) Get(ctx context.Context, normalized string) (Center, error) {
	payload, err := c.client.Get(ctx, cacheKey(normalized)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Center{}, sentinel.ErrNotFound
		}
		return Center{}, fmt.Errorf("redis get: %w", err)
	}
	var center Center
	if err := json.Unmarshal(payload, &center); err != nil {
		return Center{}, fmt.Errorf("unmarshal cached center: %w", err)
	}
	return center, nil
}

func (c *RedisCache) Set(ctx context.Context, normalized string, center Center) error {
	payload, err := json.Marshal(center)
	if err != nil {
		return fmt.Errorf("marshal center: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(normalized), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
