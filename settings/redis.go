package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wellbot/types"

	"github.com/redis/go-redis/v9"
)

const redisKey = "wellbot:" + types.RetrievalConfigKey

// RedisCache shares the cached config between replicas, so an update made
// through one instance is visible to all of them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (types.RetrievalConfig, bool, error) {
	raw, err := c.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.RetrievalConfig{}, false, nil
	}
	if err != nil {
		return types.RetrievalConfig{}, false, err
	}
	var cfg types.RetrievalConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return types.RetrievalConfig{}, false, err
	}
	return cfg, true, nil
}

// Fill uses SETNX so a stale read-through value never replaces a write.
func (c *RedisCache) Fill(ctx context.Context, cfg types.RetrievalConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, redisKey, raw, c.ttl).Err()
}

func (c *RedisCache) Set(ctx context.Context, cfg types.RetrievalConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, redisKey).Err()
}
