package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

var ErrUnknownModel = errors.New("unknown model")

const defaultConnectionTimeout = 10 * time.Second

// Registry is the model manager: it knows the selectable models and how to
// build a client for each.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]models.ModelInfo
	timeout time.Duration
}

func NewRegistry(entries ...models.ModelInfo) *Registry {
	r := &Registry{
		models:  make(map[string]models.ModelInfo),
		timeout: defaultConnectionTimeout,
	}
	for _, m := range entries {
		r.Register(m)
	}
	return r
}

// DefaultModels is the built-in catalogue.
func DefaultModels() []models.ModelInfo {
	return []models.ModelInfo{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: models.ProviderOpenAI, Endpoint: utils.DefaultOpenAIBaseURL, Model: "gpt-4o-mini"},
		{ID: "gpt-4o", Name: "GPT-4o", Provider: models.ProviderOpenAI, Endpoint: utils.DefaultOpenAIBaseURL, Model: "gpt-4o"},
		{ID: "deepseek-chat", Name: "DeepSeek Chat", Provider: models.ProviderOpenAI, Endpoint: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
		{ID: "qwen-coder-local", Name: "Qwen2.5 Coder (local)", Provider: models.ProviderOllama, Endpoint: utils.DefaultOllamaBaseURL, Model: utils.DefaultOllamaModel},
	}
}

func (r *Registry) Register(m models.ModelInfo) {
	r.mu.Lock()
	r.models[m.ID] = m
	r.mu.Unlock()
}

func (r *Registry) GetModelByID(id string) (models.ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return models.ModelInfo{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m, nil
}

// Models lists the registered models sorted by id.
func (r *Registry) Models() []models.ModelInfo {
	r.mu.RLock()
	out := make([]models.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) CreateClientForModel(m models.ModelInfo, apiKey string) (Client, error) {
	switch m.Provider {
	case models.ProviderOpenAI:
		return NewCloudClient(apiKey, m.Endpoint, m.Model), nil
	case models.ProviderOllama:
		return NewLocalClient(m.Endpoint, m.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q for model %q", m.Provider, m.ID)
	}
}

// TestModelConnection builds a throwaway client and pings it.
func (r *Registry) TestModelConnection(ctx context.Context, m models.ModelInfo, apiKey string) models.ConnectionTestResult {
	client, err := r.CreateClientForModel(m, apiKey)
	if err != nil {
		return models.ConnectionTestResult{Success: false, Message: err.Error()}
	}
	p, ok := client.(Pinger)
	if !ok {
		return models.ConnectionTestResult{Success: false, Message: "client does not support connection tests"}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err = p.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.ConnectionTestResult{Success: false, Message: err.Error(), LatencyMs: latency}
	}
	return models.ConnectionTestResult{Success: true, LatencyMs: latency}
}
