// Package storage persists agent history in Redis lists.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

const (
	defaultPrefix     = "agent:"
	defaultMaxEntries = 500
)

// RedisRepository stores records newest-first in capped Redis lists.
type RedisRepository struct {
	client     *redis.Client
	prefix     string
	maxEntries int64
	logger     *zap.Logger
}

func NewRedisRepository(client *redis.Client, prefix string, maxEntries int, logger *zap.Logger) *RedisRepository {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &RedisRepository{
		client:     client,
		prefix:     prefix,
		maxEntries: int64(maxEntries),
		logger:     logger.Named("repository"),
	}
}

func (r *RedisRepository) optimizationsKey() string { return r.prefix + "optimizations" }
func (r *RedisRepository) generationsKey() string   { return r.prefix + "generations" }
func (r *RedisRepository) executionsKey() string    { return r.prefix + "executions" }
func (r *RedisRepository) chatKey(sessionID string) string {
	return r.prefix + "chat:" + sessionID
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) SaveOptimizationRecord(ctx context.Context, rec models.OptimizationRecord) error {
	return r.pushCapped(ctx, r.optimizationsKey(), rec)
}

func (r *RedisRepository) SaveGenerationRecord(ctx context.Context, rec models.GenerationRecord) error {
	return r.pushCapped(ctx, r.generationsKey(), rec)
}

func (r *RedisRepository) SaveExecutionRecord(ctx context.Context, rec models.ScriptExecutionRecord) error {
	return r.pushCapped(ctx, r.executionsKey(), rec)
}

// SaveChatHistory appends messages to the session transcript in order.
func (r *RedisRepository) SaveChatHistory(ctx context.Context, sessionID string, messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode chat message: %w", err)
		}
		values = append(values, raw)
	}

	key := r.chatKey(sessionID)
	if err := r.client.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	if err := r.client.LTrim(ctx, key, -r.maxEntries, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim chat history: %w", err)
	}
	return nil
}

// GetExecutionHistory returns up to limit records, most recent first.
func (r *RedisRepository) GetExecutionHistory(ctx context.Context, limit int) ([]models.ScriptExecutionRecord, error) {
	if limit <= 0 {
		return []models.ScriptExecutionRecord{}, nil
	}
	raws, err := r.client.LRange(ctx, r.executionsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution history: %w", err)
	}

	out := make([]models.ScriptExecutionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec models.ScriptExecutionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			r.logger.Warn("Skipping undecodable execution record", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRepository) pushCapped(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := r.client.LPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("failed to save record to %s: %w", key, err)
	}
	if err := r.client.LTrim(ctx, key, 0, r.maxEntries-1).Err(); err != nil {
		return fmt.Errorf("failed to trim %s: %w", key, err)
	}
	return nil
}
