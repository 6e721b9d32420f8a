package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Perceptus-Labs/perceptus-agent/backend"
	"github.com/Perceptus-Labs/perceptus-agent/cache"
	"github.com/Perceptus-Labs/perceptus-agent/metrics"
	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/optimizer"
	"github.com/Perceptus-Labs/perceptus-agent/sessions"
)

const (
	templateConfidence = 0.8
	chatApology        = "Sorry, I couldn't process your message right now. Please try again."
)

type state int32

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "UNINITIALIZED"
	case stateInitializing:
		return "INITIALIZING"
	case stateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// snapshot is the configuration and the client resolved from it. It is
// replaced as a whole so readers never see a mismatched pair.
type snapshot struct {
	config models.AgentConfig
	client backend.Client
}

// Deps are the collaborators of an AgentService. Config and Repository are
// required; the rest are optional.
type Deps struct {
	Config     ConfigStore
	Models     backend.ModelManager
	Cache      cache.Cache
	Repository ScriptRepository
	Templates  TemplateManager
	Screen     ScreenAnalyzer
	Sync       SyncClient
	Local      LocalOptimizer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	HistoryLimit int

	// Resolve builds the backend for a configuration. Defaults to backend.Resolve.
	Resolve func(models.AgentConfig, backend.ModelManager) (backend.Client, error)
}

// AgentService routes script and chat requests to the configured backend,
// caches and fuses optimization results, and keeps per-session chat history.
type AgentService struct {
	deps    Deps
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state    atomic.Int32
	snap     atomic.Pointer[snapshot]
	configMu sync.Mutex

	sessions *sessions.Store
	flight   singleflight.Group

	lifeMu     sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	wg         sync.WaitGroup

	rtMu   sync.Mutex
	rtStop func()
}

func NewAgentService(deps Deps) (*AgentService, error) {
	if deps.Config == nil {
		return nil, errors.New("config store is required")
	}
	if deps.Repository == nil {
		return nil, errors.New("script repository is required")
	}
	if deps.Cache == nil {
		mem, err := cache.NewMemory(cache.DefaultSize, cache.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		deps.Cache = mem
	}
	if deps.Local == nil {
		deps.Local = optimizer.Local{}
	}
	if deps.Resolve == nil {
		deps.Resolve = backend.Resolve
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &AgentService{
		deps:     deps,
		logger:   deps.Logger.Named("agent"),
		metrics:  deps.Metrics,
		now:      time.Now,
		sessions: sessions.NewStore(deps.HistoryLimit),
	}, nil
}

// Initialize loads the configuration, checks the storage collaborators and
// resolves the backend. On failure the service stays uninitialized.
func (s *AgentService) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateUninitialized), int32(stateInitializing)) {
		if state(s.state.Load()) == stateReady {
			return nil
		}
		return errors.New("agent initialization already in progress")
	}

	if err := s.initialize(ctx); err != nil {
		s.state.Store(int32(stateUninitialized))
		s.logger.Error("Agent initialization failed", zap.Error(err))
		return err
	}

	s.state.Store(int32(stateReady))
	return nil
}

func (s *AgentService) initialize(ctx context.Context) error {
	cfg, err := s.deps.Config.Load(ctx)
	if err != nil {
		return &InitializationError{Step: "config", Err: err}
	}

	checks := []struct {
		step string
		dep  interface{}
	}{
		{"repository", s.deps.Repository},
		{"cache", s.deps.Cache},
	}
	for _, c := range checks {
		if p, ok := c.dep.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return &InitializationError{Step: c.step, Err: err}
			}
		}
	}

	s.configMu.Lock()
	s.install(cfg)
	s.configMu.Unlock()

	s.lifeMu.Lock()
	if s.lifeCtx == nil || s.lifeCtx.Err() != nil {
		s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	}
	s.lifeMu.Unlock()

	s.logger.Info("Agent initialized", zap.String("backend", backend.Select(cfg).Kind.String()))
	return nil
}

// install resolves cfg and publishes the pair. A failed resolution installs
// an empty client. Callers hold configMu.
func (s *AgentService) install(cfg models.AgentConfig) {
	client, err := s.deps.Resolve(cfg, s.deps.Models)
	if err != nil {
		s.logger.Warn("Backend resolution failed", zap.Error(err))
		client = nil
	} else if client == nil {
		s.logger.Info("Configuration selects no backend client", zap.String("model_type", string(cfg.ModelType)))
	}
	s.snap.Store(&snapshot{config: cfg, client: client})
}

func (s *AgentService) current() (*snapshot, error) {
	if state(s.state.Load()) != stateReady {
		return nil, ErrNotInitialized
	}
	return s.snap.Load(), nil
}

func (s *AgentService) backendClient() (backend.Client, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	if snap.client == nil {
		return nil, ErrBackendUnavailable
	}
	return snap.client, nil
}

// Config returns the installed configuration.
func (s *AgentService) Config() models.AgentConfig {
	if snap := s.snap.Load(); snap != nil {
		return snap.config
	}
	return models.AgentConfig{}
}

func (s *AgentService) Ready() bool {
	return state(s.state.Load()) == stateReady
}

func (s *AgentService) screenContext(ctx context.Context) *models.ScreenContext {
	if s.deps.Screen == nil {
		return nil
	}
	return s.deps.Screen.GetScreenContext(ctx)
}

// OptimizeScript returns the cached result for the script on the current
// screen, or asks the backend and the local optimizer and fuses their answers.
// Failures come back as an unsuccessful result carrying the error as a warning.
func (s *AgentService) OptimizeScript(ctx context.Context, script string) models.OptimizationResult {
	degraded := func(err error) models.OptimizationResult {
		return models.OptimizationResult{
			OriginalScript:  script,
			OptimizedScript: script,
			Improvements:    []models.Improvement{},
			Suggestions:     []models.Suggestion{},
			Warnings:        []string{fmt.Sprintf("Optimization failed: %v", err)},
			IsSuccessful:    false,
		}
	}

	return runDegraded(s, "optimize", degraded, func() (models.OptimizationResult, error) {
		if _, err := s.current(); err != nil {
			return models.OptimizationResult{}, err
		}

		sc := s.screenContext(ctx)
		key := cache.Fingerprint(script, sc)

		cached, ok, err := s.deps.Cache.Get(ctx, key)
		if err != nil {
			return models.OptimizationResult{}, fmt.Errorf("cache lookup failed: %w", err)
		}
		if ok {
			s.metrics.CacheHit()
			return cached, nil
		}
		s.metrics.CacheMiss()

		client, err := s.backendClient()
		if err != nil {
			return models.OptimizationResult{}, err
		}
		// The shared work outlives any single caller's context.
		flight := s.flight.DoChan(key, func() (v interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("optimization panicked: %v", r)
				}
			}()
			return s.optimizeUncached(context.WithoutCancel(ctx), client, key, script, sc)
		})
		select {
		case res := <-flight:
			if res.Err != nil {
				return models.OptimizationResult{}, res.Err
			}
			return res.Val.(models.OptimizationResult), nil
		case <-ctx.Done():
			return models.OptimizationResult{}, ctx.Err()
		}
	})
}

func (s *AgentService) optimizeUncached(ctx context.Context, client backend.Client, key, script string, sc *models.ScreenContext) (models.OptimizationResult, error) {
	var remote, local models.OptimizationResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &BackendCallError{Op: "analyze", Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		started := time.Now()
		res, err := client.AnalyzeScript(gctx, script, sc)
		s.metrics.ObserveBackend("analyze", started, err)
		if err != nil {
			return &BackendCallError{Op: "analyze", Err: err}
		}
		remote = res
		return nil
	})
	g.Go(func() error {
		local = s.deps.Local.Optimize(script, sc)
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.OptimizationResult{}, err
	}

	fused := fuseOptimizations(remote, local)

	rec := models.OptimizationRecord{
		ID:        uuid.New().String(),
		Result:    fused,
		Context:   sc,
		CreatedAt: s.now(),
	}
	if err := s.deps.Repository.SaveOptimizationRecord(ctx, rec); err != nil {
		return models.OptimizationResult{}, fmt.Errorf("failed to persist optimization: %w", err)
	}
	if err := s.deps.Cache.Put(ctx, key, fused); err != nil {
		return models.OptimizationResult{}, fmt.Errorf("failed to cache optimization: %w", err)
	}

	if fused.IsSuccessful {
		s.autoSync("optimized-"+key, fused.OptimizedScript, local.Score, fused.Score)
	}
	return fused, nil
}

// autoSync pushes a script in the background when the sync collaborator
// has auto-sync enabled. Errors are only logged.
func (s *AgentService) autoSync(name, content string, originalScore, newScore float64) {
	if s.deps.Sync == nil || !s.deps.Sync.IsAutoSyncEnabled() {
		return
	}
	s.spawn(func(ctx context.Context) {
		if err := s.deps.Sync.AutoSyncIfEnabled(ctx, name, content, originalScore, newScore); err != nil {
			s.logger.Warn("Auto-sync failed", zap.String("script", name), zap.Error(err))
		}
	})
}

// GenerateScript answers from the first similar template when there is one,
// otherwise from the backend. A backend script that fails validation gets a
// single local repair pass; IsExecutable still reflects the validation that
// ran before the repair.
func (s *AgentService) GenerateScript(ctx context.Context, request string) models.ScriptGenerationResult {
	degraded := func(err error) models.ScriptGenerationResult {
		return models.ScriptGenerationResult{
			Explanation:         fmt.Sprintf("Script generation failed: %v", err),
			Confidence:          0,
			RequiredPermissions: []string{},
			IsExecutable:        false,
		}
	}

	return runDegraded(s, "generate", degraded, func() (models.ScriptGenerationResult, error) {
		if _, err := s.current(); err != nil {
			return models.ScriptGenerationResult{}, err
		}

		result, err := s.generate(ctx, request)
		if err != nil {
			return models.ScriptGenerationResult{}, err
		}

		rec := models.GenerationRecord{
			ID:        uuid.New().String(),
			Request:   request,
			Result:    result,
			CreatedAt: s.now(),
		}
		if err := s.deps.Repository.SaveGenerationRecord(ctx, rec); err != nil {
			return models.ScriptGenerationResult{}, fmt.Errorf("failed to persist generation: %w", err)
		}
		return result, nil
	})
}

func (s *AgentService) generate(ctx context.Context, request string) (models.ScriptGenerationResult, error) {
	if s.deps.Templates != nil {
		matches, err := s.deps.Templates.FindSimilarTemplates(ctx, request)
		if err != nil {
			return models.ScriptGenerationResult{}, fmt.Errorf("template lookup failed: %w", err)
		}
		if len(matches) > 0 {
			return fromTemplate(matches[0], request), nil
		}
	}

	client, err := s.backendClient()
	if err != nil {
		return models.ScriptGenerationResult{}, err
	}
	sc := s.screenContext(ctx)

	started := time.Now()
	result, err := client.GenerateScript(ctx, request, sc)
	s.metrics.ObserveBackend("generate", started, err)
	if err != nil {
		return models.ScriptGenerationResult{}, &BackendCallError{Op: "generate", Err: err}
	}

	started = time.Now()
	validation, err := client.ValidateScript(ctx, result.Script, sc)
	s.metrics.ObserveBackend("validate", started, err)
	if err != nil {
		return models.ScriptGenerationResult{}, &BackendCallError{Op: "validate", Err: err}
	}

	if passes(validation) {
		result.IsExecutable = true
		return result, nil
	}

	// The repaired script is not validated again.
	result.Script = s.deps.Local.Repair(result.Script, validation.Errors)
	result.IsExecutable = false
	result.Warnings = append(result.Warnings, ErrValidationFailure.Error())
	for _, e := range validation.Errors {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: %s", e.Line, e.Message))
	}
	return result, nil
}

func passes(v models.ValidationResult) bool {
	if !v.IsValid {
		return false
	}
	for _, e := range v.Errors {
		if e.Blocking() {
			return false
		}
	}
	return true
}

func fromTemplate(t models.ScriptTemplate, request string) models.ScriptGenerationResult {
	perms := t.RequiredPermissions
	if perms == nil {
		perms = []string{}
	}
	return models.ScriptGenerationResult{
		Script:              fmt.Sprintf("// %s\n%s", request, t.Script),
		Explanation:         fmt.Sprintf("Adapted from template %q: %s", t.Name, t.Description),
		Confidence:          templateConfidence,
		RequiredPermissions: perms,
		IsExecutable:        true,
	}
}

// ChatWithAgent sends message to the backend with the session's history and
// records the exchange. The history of one session is updated by one call at
// a time. On failure the caller gets an apology and the history is unchanged.
func (s *AgentService) ChatWithAgent(ctx context.Context, message, sessionID string) models.ChatMessage {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	degraded := func(error) models.ChatMessage {
		return models.ChatMessage{
			ID:        uuid.New().String(),
			Content:   chatApology,
			Role:      models.RoleAssistant,
			Timestamp: s.now(),
		}
	}

	return runDegraded(s, "chat", degraded, func() (models.ChatMessage, error) {
		client, err := s.backendClient()
		if err != nil {
			return models.ChatMessage{}, err
		}
		sc := s.screenContext(ctx)

		var reply models.ChatMessage
		err = s.sessions.Update(sessionID, func(history []models.ChatMessage) ([]models.ChatMessage, error) {
			started := time.Now()
			resp, err := client.ChatWithAgent(ctx, message, history)
			s.metrics.ObserveBackend("chat", started, err)
			if err != nil {
				return nil, &BackendCallError{Op: "chat", Err: err}
			}

			user := models.ChatMessage{
				ID:        uuid.New().String(),
				Content:   message,
				Role:      models.RoleUser,
				Context:   sc,
				Timestamp: s.now(),
			}
			reply = models.ChatMessage{
				ID:        uuid.New().String(),
				Content:   replyContent(resp),
				Role:      models.RoleAssistant,
				Timestamp: s.now(),
			}
			exchange := []models.ChatMessage{user, reply}

			if err := s.deps.Repository.SaveChatHistory(ctx, sessionID, exchange); err != nil {
				s.logger.Warn("Failed to persist chat exchange", zap.String("session_id", sessionID), zap.Error(err))
			}
			return exchange, nil
		})
		if err != nil {
			return models.ChatMessage{}, err
		}
		return reply, nil
	})
}

func replyContent(resp models.ChatResponse) string {
	if resp.Script == "" {
		return resp.Message
	}
	return resp.Message + "\n\n```javascript\n" + resp.Script + "\n```"
}

// ChatHistory returns the stored messages of a session, oldest first.
func (s *AgentService) ChatHistory(sessionID string) []models.ChatMessage {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	return s.sessions.History(sessionID)
}

// EndChatSession forgets a session's history. The persisted copy in the
// repository is kept.
func (s *AgentService) EndChatSession(sessionID string) {
	s.sessions.Delete(sessionID)
}

// GetScriptSuggestions merges backend and local suggestions, one per title
// with the backend's first, ordered by descending priority. Failures yield an
// empty list.
func (s *AgentService) GetScriptSuggestions(ctx context.Context, script string, exec *models.ExecutionResult) []models.Suggestion {
	degraded := func(error) []models.Suggestion { return []models.Suggestion{} }

	return runDegraded(s, "suggestions", degraded, func() ([]models.Suggestion, error) {
		client, err := s.backendClient()
		if err != nil {
			return nil, err
		}

		started := time.Now()
		remote, err := client.GetSuggestions(ctx, script, exec)
		s.metrics.ObserveBackend("suggestions", started, err)
		if err != nil {
			return nil, &BackendCallError{Op: "suggestions", Err: err}
		}

		merged := mergeSuggestions(remote, s.deps.Local.Suggestions(script, exec))
		sortByPriority(merged)
		return merged, nil
	})
}

// SwitchModel tests the model with apiKey and, only when the test passes,
// persists the selection and installs the new client.
func (s *AgentService) SwitchModel(ctx context.Context, modelID, apiKey string) bool {
	return runDegraded(s, "switch_model", func(error) bool { return false }, func() (bool, error) {
		if _, err := s.current(); err != nil {
			return false, err
		}
		if s.deps.Models == nil {
			return false, errors.New("no model manager configured")
		}

		model, err := s.deps.Models.GetModelByID(modelID)
		if err != nil {
			return false, err
		}
		test := s.deps.Models.TestModelConnection(ctx, model, apiKey)
		if !test.Success {
			return false, fmt.Errorf("connection test for %s failed: %s", modelID, test.Message)
		}

		s.configMu.Lock()
		defer s.configMu.Unlock()

		cfg := s.snap.Load().config
		cfg.ModelID = modelID
		cfg.APIKey = apiKey

		client, err := s.deps.Resolve(cfg, s.deps.Models)
		if err != nil {
			return false, fmt.Errorf("failed to resolve %s: %w", modelID, err)
		}
		if err := s.deps.Config.Save(ctx, cfg); err != nil {
			return false, fmt.Errorf("failed to persist model selection: %w", err)
		}
		s.snap.Store(&snapshot{config: cfg, client: client})

		s.logger.Info("Switched model", zap.String("model_id", modelID), zap.Int64("latency_ms", test.LatencyMs))
		return true, nil
	})
}

// UpdateConfig persists cfg and re-resolves the backend from it. A failed
// resolution leaves the service without a client.
func (s *AgentService) UpdateConfig(ctx context.Context, cfg models.AgentConfig) error {
	if _, err := s.current(); err != nil {
		return err
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.deps.Config.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to persist config: %w", err)
	}
	s.install(cfg)
	return nil
}

// PushScriptToGitHub reports whether the script was pushed.
func (s *AgentService) PushScriptToGitHub(ctx context.Context, name, content string) bool {
	return runDegraded(s, "github_push", func(error) bool { return false }, func() (bool, error) {
		if _, err := s.current(); err != nil {
			return false, err
		}
		if s.deps.Sync == nil {
			return false, errors.New("github sync not configured")
		}
		res, err := s.deps.Sync.PushScript(ctx, name, content, fmt.Sprintf("Update %s", name))
		if err != nil {
			return false, err
		}
		return res.Success, nil
	})
}

type pullOutcome struct {
	content string
	ok      bool
}

// PullScriptFromGitHub returns the file content and whether the pull worked.
func (s *AgentService) PullScriptFromGitHub(ctx context.Context, path string) (string, bool) {
	out := runDegraded(s, "github_pull", func(error) pullOutcome { return pullOutcome{} }, func() (pullOutcome, error) {
		if _, err := s.current(); err != nil {
			return pullOutcome{}, err
		}
		if s.deps.Sync == nil {
			return pullOutcome{}, errors.New("github sync not configured")
		}
		res, err := s.deps.Sync.PullScript(ctx, path)
		if err != nil {
			return pullOutcome{}, err
		}
		return pullOutcome{content: res.Content, ok: res.Success}, nil
	})
	return out.content, out.ok
}

// GetTemplates lists stored templates, optionally narrowed by category and
// a free-text query.
func (s *AgentService) GetTemplates(ctx context.Context, category, query string) []models.ScriptTemplate {
	degraded := func(error) []models.ScriptTemplate { return []models.ScriptTemplate{} }
	return runDegraded(s, "templates", degraded, func() ([]models.ScriptTemplate, error) {
		if _, err := s.current(); err != nil {
			return nil, err
		}
		if s.deps.Templates == nil {
			return []models.ScriptTemplate{}, nil
		}
		return s.deps.Templates.GetTemplates(ctx, category, query)
	})
}

func (s *AgentService) SaveTemplate(ctx context.Context, t models.ScriptTemplate) bool {
	return runDegraded(s, "save_template", func(error) bool { return false }, func() (bool, error) {
		if _, err := s.current(); err != nil {
			return false, err
		}
		if s.deps.Templates == nil {
			return false, errors.New("template storage not configured")
		}
		if err := s.deps.Templates.SaveTemplate(ctx, t); err != nil {
			return false, err
		}
		return true, nil
	})
}

// RecordExecution stores the outcome of a script run reported by the device.
func (s *AgentService) RecordExecution(ctx context.Context, rec models.ScriptExecutionRecord) bool {
	return runDegraded(s, "record_execution", func(error) bool { return false }, func() (bool, error) {
		if _, err := s.current(); err != nil {
			return false, err
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.ExecutedAt.IsZero() {
			rec.ExecutedAt = s.now()
		}
		if err := s.deps.Repository.SaveExecutionRecord(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	})
}

// GetExecutionHistory lists past executions, most recent first.
func (s *AgentService) GetExecutionHistory(ctx context.Context, limit int) []models.ScriptExecutionRecord {
	degraded := func(error) []models.ScriptExecutionRecord { return []models.ScriptExecutionRecord{} }
	return runDegraded(s, "execution_history", degraded, func() ([]models.ScriptExecutionRecord, error) {
		if _, err := s.current(); err != nil {
			return nil, err
		}
		return s.deps.Repository.GetExecutionHistory(ctx, limit)
	})
}

// spawn runs fn on a goroutine bound to the service lifetime. It reports
// false when the service has been cleaned up.
func (s *AgentService) spawn(fn func(ctx context.Context)) bool {
	s.lifeMu.Lock()
	scope := s.lifeCtx
	s.lifeMu.Unlock()
	if scope == nil {
		return false
	}
	return s.spawnWithin(scope, fn)
}

// spawnWithin runs fn with scope, which must derive from the service lifetime.
func (s *AgentService) spawnWithin(scope context.Context, fn func(ctx context.Context)) bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.lifeCtx == nil || s.lifeCtx.Err() != nil || scope.Err() != nil {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Background task panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		fn(scope)
	}()
	return true
}

// Cleanup stops realtime analysis, releases the screen analyzer, cancels
// background work and waits for it, and clears chat sessions. The service
// must be initialized again before further use. Safe to call repeatedly.
func (s *AgentService) Cleanup() {
	s.state.Store(int32(stateUninitialized))
	s.StopRealtimeAnalysis()

	if s.deps.Screen != nil {
		s.deps.Screen.Cleanup()
	}

	s.lifeMu.Lock()
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	s.lifeMu.Unlock()

	s.wg.Wait()
	s.sessions.Clear()
	s.logger.Info("Agent cleaned up")
}
