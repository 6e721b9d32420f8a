package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

type Kind string

const (
	KindCloud Kind = "cloud"
	KindLocal Kind = "local"
)

type completer interface {
	Complete(ctx context.Context, messages []utils.GPTMessage) (string, error)
	Ping(ctx context.Context) error
}

// Assistant implements Client on top of a chat completion transport. The
// cloud and local variants differ only in transport.
type Assistant struct {
	kind   Kind
	llm    completer
	logger *zap.Logger
}

// NewCloudClient returns a backend for an OpenAI-compatible endpoint.
func NewCloudClient(apiKey, baseURL, model string) *Assistant {
	return &Assistant{
		kind:   KindCloud,
		llm:    utils.NewOpenAIClient(apiKey, baseURL, model),
		logger: zap.L().Named("backend").With(zap.String("kind", string(KindCloud))),
	}
}

// NewLocalClient returns a backend for a model served by Ollama.
func NewLocalClient(baseURL, model string) *Assistant {
	return &Assistant{
		kind:   KindLocal,
		llm:    utils.NewOllamaClient(baseURL, model),
		logger: zap.L().Named("backend").With(zap.String("kind", string(KindLocal))),
	}
}

func (a *Assistant) Kind() Kind { return a.kind }

func (a *Assistant) Ping(ctx context.Context) error {
	return a.llm.Ping(ctx)
}

func (a *Assistant) AnalyzeScript(ctx context.Context, script string, sc *models.ScreenContext) (models.OptimizationResult, error) {
	content, err := a.ask(ctx, fmt.Sprintf(analyzePrompt, sc.Summary(), script))
	if err != nil {
		return models.OptimizationResult{}, err
	}

	// is_successful is optional in the reply; absent means success.
	var decoded struct {
		models.OptimizationResult
		IsSuccessful *bool `json:"is_successful"`
	}
	if err := decodeJSON(content, &decoded); err != nil {
		return models.OptimizationResult{}, fmt.Errorf("failed to parse analysis: %w", err)
	}
	out := decoded.OptimizationResult
	out.OriginalScript = script
	if strings.TrimSpace(out.OptimizedScript) == "" {
		out.OptimizedScript = script
	}
	out.Score = clamp(out.Score, 0, 100)
	out.IsSuccessful = decoded.IsSuccessful == nil || *decoded.IsSuccessful
	return out, nil
}

func (a *Assistant) GenerateScript(ctx context.Context, request string, sc *models.ScreenContext) (models.ScriptGenerationResult, error) {
	content, err := a.ask(ctx, fmt.Sprintf(generatePrompt, request, sc.Summary()))
	if err != nil {
		return models.ScriptGenerationResult{}, err
	}

	var out models.ScriptGenerationResult
	if err := decodeJSON(content, &out); err != nil {
		return models.ScriptGenerationResult{}, fmt.Errorf("failed to parse generated script: %w", err)
	}
	if strings.TrimSpace(out.Script) == "" {
		return models.ScriptGenerationResult{}, fmt.Errorf("model returned an empty script")
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	out.IsExecutable = false
	return out, nil
}

func (a *Assistant) ChatWithAgent(ctx context.Context, message string, history []models.ChatMessage) (models.ChatResponse, error) {
	messages := []utils.GPTMessage{{Role: "system", Content: systemPrompt + "\n" + chatInstruction}}
	for _, m := range history {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, utils.GPTMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, utils.GPTMessage{Role: "user", Content: message})

	content, err := a.complete(ctx, messages)
	if err != nil {
		return models.ChatResponse{}, err
	}

	var out models.ChatResponse
	if err := decodeJSON(content, &out); err != nil || out.Message == "" {
		a.logger.Debug("Chat reply was not JSON, using raw content")
		return models.ChatResponse{Message: strings.TrimSpace(content)}, nil
	}
	return out, nil
}

func (a *Assistant) GetSuggestions(ctx context.Context, script string, exec *models.ExecutionResult) ([]models.Suggestion, error) {
	execText := ""
	if exec != nil {
		execText = fmt.Sprintf("Last execution: success=%t error=%q output=%q\n", exec.Success, exec.Error, exec.Output)
	}
	content, err := a.ask(ctx, fmt.Sprintf(suggestionsPrompt, script, execText))
	if err != nil {
		return nil, err
	}

	var out struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	if err := decodeJSON(content, &out); err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}
	return out.Suggestions, nil
}

func (a *Assistant) ValidateScript(ctx context.Context, script string, sc *models.ScreenContext) (models.ValidationResult, error) {
	content, err := a.ask(ctx, fmt.Sprintf(validatePrompt, sc.Summary(), script))
	if err != nil {
		return models.ValidationResult{}, err
	}

	var out models.ValidationResult
	if err := decodeJSON(content, &out); err != nil {
		return models.ValidationResult{}, fmt.Errorf("failed to parse validation: %w", err)
	}
	return out, nil
}

func (a *Assistant) AnalyzeScreenRealtime(ctx context.Context, sc *models.ScreenContext) (models.ActionSuggestion, error) {
	content, err := a.ask(ctx, fmt.Sprintf(realtimePrompt, sc.Summary()))
	if err != nil {
		return models.ActionSuggestion{}, err
	}

	var out models.ActionSuggestion
	if err := decodeJSON(content, &out); err != nil {
		a.logger.Warn("Failed to parse realtime analysis, using raw content", zap.Error(err))
		out = models.ActionSuggestion{Action: "none", Description: strings.TrimSpace(content)}
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	out.Context = sc
	out.Timestamp = time.Now()
	return out, nil
}

func (a *Assistant) ask(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, []utils.GPTMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
}

func (a *Assistant) complete(ctx context.Context, messages []utils.GPTMessage) (string, error) {
	start := time.Now()
	content, err := a.llm.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	a.logger.Debug("Completion received", zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

// decodeJSON extracts the JSON object from a model reply. Code fences and
// surrounding prose are dropped; malformed JSON gets one repair attempt.
func decodeJSON(content string, v interface{}) error {
	raw := extractObject(content)
	if raw == "" {
		return fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("failed to repair JSON: %w", err)
	}
	return json.Unmarshal([]byte(fixed), v)
}

func extractObject(content string) string {
	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(content, "}")
	if end < start {
		// Truncated reply; let the repair step close it.
		return content[start:]
	}
	return content[start : end+1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
