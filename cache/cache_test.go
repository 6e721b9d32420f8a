package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

func sampleResult(score float64) models.OptimizationResult {
	return models.OptimizationResult{
		OriginalScript:  "a()",
		OptimizedScript: "b()",
		Improvements:    []models.Improvement{{Type: "perf", Description: "faster"}},
		Score:           score,
		Suggestions:     []models.Suggestion{},
		Warnings:        []string{},
		IsSuccessful:    true,
	}
}

func TestFingerprint(t *testing.T) {
	ctx := &models.ScreenContext{ID: "screen-1"}

	assert.Equal(t, Fingerprint("click()", ctx), Fingerprint("click()", ctx), "must be deterministic")
	assert.NotEqual(t, Fingerprint("click()", ctx), Fingerprint("click()", nil))
	assert.NotEqual(t, Fingerprint("click()", ctx), Fingerprint("click()", &models.ScreenContext{ID: "screen-2"}))
	assert.NotEqual(t,
		Fingerprint("ab", &models.ScreenContext{ID: "c"}),
		Fingerprint("a", &models.ScreenContext{ID: "bc"}),
		"parts must not run together")
}

func TestMemory_PutGet(t *testing.T) {
	m, err := NewMemory(4, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "k", sampleResult(10)))
	require.NoError(t, m.Put(ctx, "k", sampleResult(20)))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(20), got, "last write wins")
}

func TestMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	m, err := NewMemory(2, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "a", sampleResult(1)))
	require.NoError(t, m.Put(ctx, "b", sampleResult(2)))
	_, _, _ = m.Get(ctx, "a")
	require.NoError(t, m.Put(ctx, "c", sampleResult(3)))

	_, ok, _ := m.Get(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	m, err := NewMemory(2, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", sampleResult(1)))
	now = now.Add(2 * time.Minute)

	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, m.Len(), "expired entries are dropped on read")
}

func TestRedis_GetPut(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, "test:", time.Hour)
	ctx := context.Background()
	raw, err := json.Marshal(sampleResult(42))
	require.NoError(t, err)

	mock.ExpectSet("test:k", raw, time.Hour).SetVal("OK")
	require.NoError(t, r.Put(ctx, "k", sampleResult(42)))

	mock.ExpectGet("test:k").SetVal(string(raw))
	got, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(42), got)

	mock.ExpectGet("test:missing").RedisNil()
	_, ok, err = r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiered_BackfillsMemory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mem, err := NewMemory(8, time.Minute)
	require.NoError(t, err)
	tiered := NewTiered(mem, NewRedis(db, "t:", time.Hour), zap.NewNop())
	ctx := context.Background()
	raw, _ := json.Marshal(sampleResult(7))

	mock.ExpectGet("t:k").SetVal(string(raw))
	got, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(7), got)

	// Second read is served from memory; no further Redis expectation is set.
	got, ok, err = tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(7), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiered_DurableFailureIsAMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mem, err := NewMemory(8, time.Minute)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.WarnLevel)
	tiered := NewTiered(mem, NewRedis(db, "t:", time.Hour), zap.New(core))
	ctx := context.Background()

	mock.ExpectGet("t:k").SetErr(errors.New("connection refused"))
	_, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, _ := json.Marshal(sampleResult(3))
	mock.ExpectSet("t:k", raw, time.Hour).SetErr(errors.New("connection refused"))
	require.NoError(t, tiered.Put(ctx, "k", sampleResult(3)))

	got, ok, _ := mem.Get(ctx, "k")
	assert.True(t, ok, "memory tier still written")
	assert.Equal(t, sampleResult(3), got)
	assert.Equal(t, 2, logs.Len())
}
