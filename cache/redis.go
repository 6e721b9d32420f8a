package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

const defaultKeyPrefix = "agent:optcache:"

// Redis is the durable tier. Entries expire through Redis itself.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (models.OptimizationResult, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.OptimizationResult{}, false, nil
	}
	if err != nil {
		return models.OptimizationResult{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var result models.OptimizationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.OptimizationResult{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return result, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, result models.OptimizationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Ping lets the orchestrator check the tier during initialization.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
