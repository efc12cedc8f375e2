package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisCachePrefix = "resolve:cache"

// RedisCache is a ResultCache backed by Redis, shared across process
// instances so one replica's primary result can serve another's fallback.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed result cache
func NewRedisCache(client *redis.Client, logger *slog.Logger) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		logger: logger.With("component", "result_cache"),
	}, nil
}

func redisCacheKey(serviceType, inputHash string) string {
	return fmt.Sprintf("%s:%s:%s", redisCachePrefix, serviceType, inputHash)
}

func (c *RedisCache) Get(ctx context.Context, serviceType, inputHash string) (json.RawMessage, bool, error) {
	data, err := c.client.Get(ctx, redisCacheKey(serviceType, inputHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, serviceType, inputHash string, result json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, redisCacheKey(serviceType, inputHash), []byte(result), ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}
