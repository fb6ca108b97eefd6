package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "dagflow:cache:"

// ResultCache implements ResultCache using Redis. Outputs are stored as
// JSON, so numbers come back as float64.
type ResultCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewResultCache creates a new Redis result cache. Entries expire after ttl;
// zero keeps them forever.
func NewResultCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns the outputs cached under key
func (c *ResultCache) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var outputs map[string]any
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return outputs, true, nil
}

// Set stores outputs under key
func (c *ResultCache) Set(ctx context.Context, key string, outputs map[string]any) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	c.logger.Debug("cache entry stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
