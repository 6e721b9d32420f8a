// Package backend provides the AI backends the agent talks to and the
// resolution of a backend from configuration.
package backend

import (
	"context"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// Client is the capability set every AI backend implements.
type Client interface {
	AnalyzeScript(ctx context.Context, script string, sc *models.ScreenContext) (models.OptimizationResult, error)
	GenerateScript(ctx context.Context, request string, sc *models.ScreenContext) (models.ScriptGenerationResult, error)
	ChatWithAgent(ctx context.Context, message string, history []models.ChatMessage) (models.ChatResponse, error)
	GetSuggestions(ctx context.Context, script string, exec *models.ExecutionResult) ([]models.Suggestion, error)
	ValidateScript(ctx context.Context, script string, sc *models.ScreenContext) (models.ValidationResult, error)
	AnalyzeScreenRealtime(ctx context.Context, sc *models.ScreenContext) (models.ActionSuggestion, error)
}

// Pinger is implemented by clients that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}
