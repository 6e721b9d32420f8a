package handlers

import (
	"context"

	"github.com/Perceptus-Labs/perceptus-agent/githubsync"
	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// ScreenAnalyzer supplies the current screen and a stream of screen changes.
type ScreenAnalyzer interface {
	GetScreenContext(ctx context.Context) *models.ScreenContext
	StartRealtimeMonitoring(onContext func(*models.ScreenContext)) (stop func())
	Cleanup()
}

type TemplateManager interface {
	FindSimilarTemplates(ctx context.Context, request string) ([]models.ScriptTemplate, error)
	GetTemplates(ctx context.Context, category, query string) ([]models.ScriptTemplate, error)
	SaveTemplate(ctx context.Context, t models.ScriptTemplate) error
}

type ScriptRepository interface {
	SaveOptimizationRecord(ctx context.Context, rec models.OptimizationRecord) error
	SaveGenerationRecord(ctx context.Context, rec models.GenerationRecord) error
	SaveChatHistory(ctx context.Context, sessionID string, messages []models.ChatMessage) error
	SaveExecutionRecord(ctx context.Context, rec models.ScriptExecutionRecord) error
	GetExecutionHistory(ctx context.Context, limit int) ([]models.ScriptExecutionRecord, error)
}

type SyncClient interface {
	IsAutoSyncEnabled() bool
	AutoSyncIfEnabled(ctx context.Context, scriptName, content string, originalScore, newScore float64) error
	PushScript(ctx context.Context, scriptName, content, message string) (githubsync.PushResult, error)
	PullScript(ctx context.Context, path string) (githubsync.PullResult, error)
}

// ConfigStore persists the AgentConfig.
type ConfigStore interface {
	Load(ctx context.Context) (models.AgentConfig, error)
	Save(ctx context.Context, cfg models.AgentConfig) error
}

// LocalOptimizer is the zero-network source used next to the backend.
type LocalOptimizer interface {
	Optimize(script string, sc *models.ScreenContext) models.OptimizationResult
	Suggestions(script string, exec *models.ExecutionResult) []models.Suggestion
	Repair(script string, errs []models.ValidationError) string
}

// pinger is implemented by collaborators with a readiness check.
type pinger interface {
	Ping(ctx context.Context) error
}
