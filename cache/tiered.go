package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// Tiered reads the memory tier first and falls back to the durable tier,
// backfilling memory on a durable hit. Durable tier failures are logged and
// treated as misses.
type Tiered struct {
	memory  *Memory
	durable Cache
	logger  *zap.Logger
}

func NewTiered(memory *Memory, durable Cache, logger *zap.Logger) *Tiered {
	return &Tiered{memory: memory, durable: durable, logger: logger.Named("cache")}
}

func (t *Tiered) Get(ctx context.Context, key string) (models.OptimizationResult, bool, error) {
	if result, ok, _ := t.memory.Get(ctx, key); ok {
		return result, true, nil
	}
	if t.durable == nil {
		return models.OptimizationResult{}, false, nil
	}

	result, ok, err := t.durable.Get(ctx, key)
	if err != nil {
		t.logger.Warn("Durable cache read failed", zap.String("key", key), zap.Error(err))
		return models.OptimizationResult{}, false, nil
	}
	if ok {
		_ = t.memory.Put(ctx, key, result)
	}
	return result, ok, nil
}

func (t *Tiered) Put(ctx context.Context, key string, result models.OptimizationResult) error {
	_ = t.memory.Put(ctx, key, result)
	if t.durable == nil {
		return nil
	}
	if err := t.durable.Put(ctx, key, result); err != nil {
		t.logger.Warn("Durable cache write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Ping checks the durable tier when it supports it.
func (t *Tiered) Ping(ctx context.Context) error {
	if p, ok := t.durable.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
