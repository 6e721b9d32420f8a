package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/backend"
	"github.com/Perceptus-Labs/perceptus-agent/cache"
	"github.com/Perceptus-Labs/perceptus-agent/config"
	"github.com/Perceptus-Labs/perceptus-agent/githubsync"
	"github.com/Perceptus-Labs/perceptus-agent/handlers"
	"github.com/Perceptus-Labs/perceptus-agent/metrics"
	"github.com/Perceptus-Labs/perceptus-agent/screen"
	"github.com/Perceptus-Labs/perceptus-agent/storage"
	"github.com/Perceptus-Labs/perceptus-agent/templates"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

const keyPrefix = "perceptus-agent:"

// app holds everything the commands need after wiring.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	redis    *redis.Client
	registry *backend.Registry
	hub      *screen.Hub
	metrics  *metrics.Metrics
	agent    *handlers.AgentService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	// Set up Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	redisCtx, cancelRedis := context.WithTimeout(ctx, 10*time.Second)
	defer cancelRedis()
	if err := redisClient.Ping(redisCtx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("Successfully connected to Redis", zap.String("addr", cfg.Redis.Addr))

	mem, err := cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	tiered := cache.NewTiered(mem, cache.NewRedis(redisClient, keyPrefix+"cache:", cfg.Cache.RedisTTL), logger)

	m, err := metrics.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		redisClient.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		redis:    redisClient,
		registry: backend.NewRegistry(backend.DefaultModels()...),
		hub:      screen.NewHub(logger),
		metrics:  m,
	}

	deps := handlers.Deps{
		Config:       config.NewAgentStore(cfg.AgentStorePath, cfg.Agent),
		Models:       a.registry,
		Cache:        tiered,
		Repository:   storage.NewRedisRepository(redisClient, keyPrefix, cfg.History.MaxRecords, logger),
		Templates:    a.templateManager(ctx),
		Screen:       a.hub,
		Metrics:      m,
		Logger:       logger,
		HistoryLimit: cfg.History.SessionLimit,
	}
	if cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		syncer, err := githubsync.New(cfg.GitHub, logger)
		if err != nil {
			logger.Warn("GitHub sync disabled", zap.Error(err))
		} else {
			deps.Sync = syncer
		}
	}

	agent, err := handlers.NewAgentService(deps)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	if err := agent.Initialize(ctx); err != nil {
		redisClient.Close()
		return nil, err
	}
	a.agent = agent
	return a, nil
}

// templateManager uses Pinecone when configured and falls back to the
// in-memory keyword matcher otherwise.
func (a *app) templateManager(ctx context.Context) handlers.TemplateManager {
	pc := a.cfg.Pinecone
	if !pc.Enabled() {
		return templates.NewMemoryManager()
	}

	idx, err := utils.GetPineconeIndex(ctx, pc.APIKey, pc.Index, pc.Namespace)
	if err != nil {
		a.logger.Warn("Failed to initialize Pinecone connection, using in-memory templates", zap.Error(err))
		return templates.NewMemoryManager()
	}
	embedder := utils.NewOpenAIClient(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.BaseURL, "")
	return templates.NewPineconeManager(idx, embedder, pc.TopK, pc.MinScore, a.logger)
}

func (a *app) voice() handlers.VoiceFactory {
	dg := a.cfg.Deepgram
	if !dg.Enabled() {
		return nil
	}
	return handlers.DeepgramVoice(utils.DeepgramOptions{
		APIKey:              dg.APIKey,
		Language:            dg.Language,
		ConfidenceThreshold: dg.ConfidenceThreshold,
	}, a.logger)
}

func (a *app) Close() {
	a.agent.Cleanup()
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("Failed to close Redis client", zap.Error(err))
	}
}
