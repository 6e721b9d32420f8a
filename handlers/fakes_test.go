package handlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Perceptus-Labs/perceptus-agent/backend"
	"github.com/Perceptus-Labs/perceptus-agent/githubsync"
	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/optimizer"
)

var errBoom = errors.New("boom")

type fakeBackend struct {
	analyzeResult  models.OptimizationResult
	generateResult models.ScriptGenerationResult
	validation     models.ValidationResult
	suggestions    []models.Suggestion
	realtime       func(ctx context.Context, sc *models.ScreenContext) (models.ActionSuggestion, error)
	panicOnAnalyze bool
	// analyzeGate, when set, holds AnalyzeScript until closed or ctx ends.
	analyzeGate chan struct{}

	mu  sync.Mutex
	err error

	analyzeCalls    atomic.Int32
	generateCalls   atomic.Int32
	validateCalls   atomic.Int32
	chatCalls       atomic.Int32
	suggestionCalls atomic.Int32
	realtimeCalls   atomic.Int32
}

func (f *fakeBackend) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeBackend) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeBackend) AnalyzeScript(ctx context.Context, script string, _ *models.ScreenContext) (models.OptimizationResult, error) {
	f.analyzeCalls.Add(1)
	if f.panicOnAnalyze {
		panic("analyzer exploded")
	}
	if f.analyzeGate != nil {
		select {
		case <-f.analyzeGate:
		case <-ctx.Done():
			return models.OptimizationResult{}, ctx.Err()
		}
	}
	if err := f.failure(); err != nil {
		return models.OptimizationResult{}, err
	}
	res := f.analyzeResult
	if res.OriginalScript == "" {
		res.OriginalScript = script
	}
	return res, nil
}

func (f *fakeBackend) GenerateScript(context.Context, string, *models.ScreenContext) (models.ScriptGenerationResult, error) {
	f.generateCalls.Add(1)
	if err := f.failure(); err != nil {
		return models.ScriptGenerationResult{}, err
	}
	return f.generateResult, nil
}

func (f *fakeBackend) ChatWithAgent(_ context.Context, message string, _ []models.ChatMessage) (models.ChatResponse, error) {
	f.chatCalls.Add(1)
	if err := f.failure(); err != nil {
		return models.ChatResponse{}, err
	}
	return models.ChatResponse{Message: "re: " + message}, nil
}

func (f *fakeBackend) GetSuggestions(context.Context, string, *models.ExecutionResult) ([]models.Suggestion, error) {
	f.suggestionCalls.Add(1)
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.suggestions, nil
}

func (f *fakeBackend) ValidateScript(context.Context, string, *models.ScreenContext) (models.ValidationResult, error) {
	f.validateCalls.Add(1)
	if err := f.failure(); err != nil {
		return models.ValidationResult{}, err
	}
	return f.validation, nil
}

func (f *fakeBackend) AnalyzeScreenRealtime(ctx context.Context, sc *models.ScreenContext) (models.ActionSuggestion, error) {
	f.realtimeCalls.Add(1)
	if err := f.failure(); err != nil {
		return models.ActionSuggestion{}, err
	}
	if f.realtime != nil {
		return f.realtime(ctx, sc)
	}
	return models.ActionSuggestion{Action: "tap", Confidence: 0.9}, nil
}

type fakeLocal struct {
	result      *models.OptimizationResult
	suggestions []models.Suggestion

	optimizeCalls atomic.Int32
	repairCalls   atomic.Int32
}

func (f *fakeLocal) Optimize(script string, sc *models.ScreenContext) models.OptimizationResult {
	f.optimizeCalls.Add(1)
	if f.result != nil {
		return *f.result
	}
	return optimizer.Optimize(script, sc)
}

func (f *fakeLocal) Suggestions(script string, exec *models.ExecutionResult) []models.Suggestion {
	if f.suggestions != nil {
		return f.suggestions
	}
	return optimizer.Suggestions(script, exec)
}

func (f *fakeLocal) Repair(script string, errs []models.ValidationError) string {
	f.repairCalls.Add(1)
	return optimizer.Repair(script, errs)
}

type fakeConfigStore struct {
	mu      sync.Mutex
	cfg     models.AgentConfig
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeConfigStore) Load(context.Context) (models.AgentConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.loadErr
}

func (f *fakeConfigStore) Save(_ context.Context, cfg models.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cfg = cfg
	f.saves++
	return nil
}

func (f *fakeConfigStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fakeRepo struct {
	mu            sync.Mutex
	pingErr       error
	saveErr       error
	historyErr    error
	optimizations []models.OptimizationRecord
	generations   []models.GenerationRecord
	chats         map[string][]models.ChatMessage
	executions    []models.ScriptExecutionRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{chats: make(map[string][]models.ChatMessage)}
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) SaveOptimizationRecord(_ context.Context, rec models.OptimizationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.optimizations = append(f.optimizations, rec)
	return nil
}

func (f *fakeRepo) SaveGenerationRecord(_ context.Context, rec models.GenerationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.generations = append(f.generations, rec)
	return nil
}

func (f *fakeRepo) SaveChatHistory(_ context.Context, sessionID string, msgs []models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.chats[sessionID] = append(f.chats[sessionID], msgs...)
	return nil
}

func (f *fakeRepo) SaveExecutionRecord(_ context.Context, rec models.ScriptExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.executions = append([]models.ScriptExecutionRecord{rec}, f.executions...)
	return nil
}

func (f *fakeRepo) GetExecutionHistory(_ context.Context, limit int) ([]models.ScriptExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if limit > 0 && limit < len(f.executions) {
		return f.executions[:limit], nil
	}
	return f.executions, nil
}

func (f *fakeRepo) optimizationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.optimizations)
}

type fakeTemplates struct {
	matches []models.ScriptTemplate
	err     error
	calls   atomic.Int32
	saved   []models.ScriptTemplate
}

func (f *fakeTemplates) FindSimilarTemplates(context.Context, string) ([]models.ScriptTemplate, error) {
	f.calls.Add(1)
	return f.matches, f.err
}

func (f *fakeTemplates) GetTemplates(context.Context, string, string) ([]models.ScriptTemplate, error) {
	return f.matches, f.err
}

func (f *fakeTemplates) SaveTemplate(_ context.Context, t models.ScriptTemplate) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, t)
	return nil
}

type fakeScreen struct {
	mu       sync.Mutex
	current  *models.ScreenContext
	subs     map[int]func(*models.ScreenContext)
	next     int
	cleanups atomic.Int32
}

func newFakeScreen(current *models.ScreenContext) *fakeScreen {
	return &fakeScreen{current: current, subs: make(map[int]func(*models.ScreenContext))}
}

func (f *fakeScreen) GetScreenContext(context.Context) *models.ScreenContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeScreen) StartRealtimeMonitoring(onContext func(*models.ScreenContext)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = onContext
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeScreen) Cleanup() { f.cleanups.Add(1) }

func (f *fakeScreen) emit(sc *models.ScreenContext) {
	f.mu.Lock()
	subs := make([]func(*models.ScreenContext), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(sc)
	}
}

func (f *fakeScreen) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeSync struct {
	enabled  bool
	err      error
	content  string
	autoSync chan [2]float64
	pushes   atomic.Int32
}

func (f *fakeSync) IsAutoSyncEnabled() bool { return f.enabled }

func (f *fakeSync) AutoSyncIfEnabled(_ context.Context, _, _ string, originalScore, newScore float64) error {
	if f.autoSync != nil {
		f.autoSync <- [2]float64{originalScore, newScore}
	}
	return f.err
}

func (f *fakeSync) PushScript(context.Context, string, string, string) (githubsync.PushResult, error) {
	f.pushes.Add(1)
	if f.err != nil {
		return githubsync.PushResult{}, f.err
	}
	return githubsync.PushResult{Success: true, SHA: "abc"}, nil
}

func (f *fakeSync) PullScript(context.Context, string) (githubsync.PullResult, error) {
	if f.err != nil {
		return githubsync.PullResult{}, f.err
	}
	return githubsync.PullResult{Success: true, Content: f.content}, nil
}

type fakeModels struct {
	test      models.ConnectionTestResult
	testCalls atomic.Int32
}

func (f *fakeModels) GetModelByID(id string) (models.ModelInfo, error) {
	if id == "missing" {
		return models.ModelInfo{}, backend.ErrUnknownModel
	}
	return models.ModelInfo{ID: id, Provider: models.ProviderOpenAI}, nil
}

func (f *fakeModels) CreateClientForModel(models.ModelInfo, string) (backend.Client, error) {
	return &fakeBackend{}, nil
}

func (f *fakeModels) TestModelConnection(context.Context, models.ModelInfo, string) models.ConnectionTestResult {
	f.testCalls.Add(1)
	return f.test
}

// harness wires an AgentService to fakes. Resolve hands out clients by
// model id so tests can observe which client is installed.
type harness struct {
	svc       *AgentService
	remote    *fakeBackend
	local     *fakeLocal
	store     *fakeConfigStore
	repo      *fakeRepo
	templates *fakeTemplates
	screen    *fakeScreen
	sync      *fakeSync
	models    *fakeModels
	clients   map[string]backend.Client
}

func newHarness(t *testing.T, mutate ...func(*harness, *Deps)) *harness {
	t.Helper()
	h := &harness{
		remote:    &fakeBackend{},
		local:     &fakeLocal{},
		store:     &fakeConfigStore{cfg: models.AgentConfig{ModelType: models.ModelTypeCloudAPI}},
		repo:      newFakeRepo(),
		templates: &fakeTemplates{},
		screen:    newFakeScreen(&models.ScreenContext{ID: "screen-1", PackageName: "com.example"}),
		sync:      &fakeSync{},
		models:    &fakeModels{test: models.ConnectionTestResult{Success: true}},
		clients:   make(map[string]backend.Client),
	}

	deps := Deps{
		Config:     h.store,
		Models:     h.models,
		Repository: h.repo,
		Templates:  h.templates,
		Screen:     h.screen,
		Sync:       h.sync,
		Local:      h.local,
		Logger:     zaptest.NewLogger(t),
		Resolve: func(cfg models.AgentConfig, _ backend.ModelManager) (backend.Client, error) {
			if cfg.ModelType == models.ModelTypeCustom {
				return nil, nil
			}
			if c, ok := h.clients[cfg.ModelID]; ok {
				return c, nil
			}
			return h.remote, nil
		},
	}
	for _, m := range mutate {
		m(h, &deps)
	}

	svc, err := NewAgentService(deps)
	require.NoError(t, err)
	h.svc = svc
	t.Cleanup(svc.Cleanup)
	return h
}

func (h *harness) init(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, h.svc.Initialize(context.Background()))
	return h
}
