package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

const (
	DefaultSize = 512
	DefaultTTL  = time.Hour
)

type entry struct {
	result    models.OptimizationResult
	expiresAt time.Time
}

// Memory is a bounded LRU with a per-entry TTL. A TTL <= 0 disables expiry.
type Memory struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, entry]
	ttl time.Duration
	now func() time.Time
}

func NewMemory(size int, ttl time.Duration) (*Memory, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: c, ttl: ttl, now: time.Now}, nil
}

func (m *Memory) Get(_ context.Context, key string) (models.OptimizationResult, bool, error) {
	m.mu.RLock()
	e, ok := m.lru.Get(key)
	m.mu.RUnlock()
	if !ok {
		return models.OptimizationResult{}, false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.mu.Lock()
		m.lru.Remove(key)
		m.mu.Unlock()
		return models.OptimizationResult{}, false, nil
	}
	return e.result, true, nil
}

func (m *Memory) Put(_ context.Context, key string, result models.OptimizationResult) error {
	e := entry{result: result}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.lru.Add(key, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	return m.lru.Len()
}
