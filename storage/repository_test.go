package storage

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

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

func TestSaveOptimizationRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db, "t:", 10, zap.NewNop())
	rec := models.OptimizationRecord{
		ID:        "rec-1",
		Result:    models.OptimizationResult{OriginalScript: "a()", OptimizedScript: "b()", Score: 80, IsSuccessful: true},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectLPush("t:optimizations", raw).SetVal(1)
	mock.ExpectLTrim("t:optimizations", 0, 9).SetVal("OK")

	require.NoError(t, repo.SaveOptimizationRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGenerationRecord_PropagatesErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db, "t:", 10, zap.NewNop())
	rec := models.GenerationRecord{ID: "g", Request: "r", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	raw, _ := json.Marshal(rec)

	mock.ExpectLPush("t:generations", raw).SetErr(errors.New("READONLY"))

	err := repo.SaveGenerationRecord(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestSaveChatHistory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db, "t:", 20, zap.NewNop())
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []models.ChatMessage{
		{ID: "1", Role: models.RoleUser, Content: "hi", Timestamp: ts},
		{ID: "2", Role: models.RoleAssistant, Content: "hello", Timestamp: ts},
	}
	u, _ := json.Marshal(msgs[0])
	a, _ := json.Marshal(msgs[1])

	mock.ExpectRPush("t:chat:s1", u, a).SetVal(2)
	mock.ExpectLTrim("t:chat:s1", -20, -1).SetVal("OK")

	require.NoError(t, repo.SaveChatHistory(context.Background(), "s1", msgs))
	require.NoError(t, repo.SaveChatHistory(context.Background(), "s1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecutionHistory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db, "t:", 10, zap.NewNop())
	newest, _ := json.Marshal(models.ScriptExecutionRecord{ID: "new", ScriptName: "b"})
	older, _ := json.Marshal(models.ScriptExecutionRecord{ID: "old", ScriptName: "a"})

	mock.ExpectLRange("t:executions", 0, 2).SetVal([]string{string(newest), "not json", string(older)})

	got, err := repo.GetExecutionHistory(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	empty, err := repo.GetExecutionHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}
