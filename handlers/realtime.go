package handlers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// StartRealtimeAnalysis subscribes to screen changes. Every change is
// analyzed on its own goroutine and the suggestion handed to callback;
// a failed analysis is logged and skipped. Starting twice is a no-op.
func (s *AgentService) StartRealtimeAnalysis(callback func(models.ActionSuggestion)) error {
	if _, err := s.current(); err != nil {
		return err
	}
	if s.deps.Screen == nil {
		return errors.New("no screen analyzer configured")
	}

	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	if s.rtStop != nil {
		return nil
	}

	s.lifeMu.Lock()
	lifetime := s.lifeCtx
	s.lifeMu.Unlock()
	if lifetime == nil || lifetime.Err() != nil {
		return ErrNotInitialized
	}
	scope, cancel := context.WithCancel(lifetime)

	unsubscribe := s.deps.Screen.StartRealtimeMonitoring(func(sc *models.ScreenContext) {
		s.spawnWithin(scope, func(ctx context.Context) {
			s.analyzeScreen(ctx, sc, callback)
		})
	})
	s.rtStop = func() {
		unsubscribe()
		cancel()
	}

	s.logger.Info("Realtime analysis started")
	return nil
}

// StopRealtimeAnalysis cancels the subscription and any analysis in flight.
func (s *AgentService) StopRealtimeAnalysis() {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	if s.rtStop == nil {
		return
	}
	s.rtStop()
	s.rtStop = nil
	s.logger.Info("Realtime analysis stopped")
}

func (s *AgentService) RealtimeActive() bool {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	return s.rtStop != nil
}

func (s *AgentService) analyzeScreen(ctx context.Context, sc *models.ScreenContext, callback func(models.ActionSuggestion)) {
	client, err := s.backendClient()
	if err != nil {
		s.logger.Debug("Skipping realtime analysis", zap.Error(err))
		return
	}

	started := s.now()
	suggestion, err := client.AnalyzeScreenRealtime(ctx, sc)
	s.metrics.ObserveBackend("realtime", started, err)
	if err != nil {
		s.logger.Warn("Realtime analysis failed", zap.String("context_id", sc.Identity()), zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if suggestion.Context == nil {
		suggestion.Context = sc
	}
	if suggestion.Timestamp.IsZero() {
		suggestion.Timestamp = s.now()
	}

	s.logger.Debug("Realtime suggestion",
		zap.String("action", suggestion.Action),
		zap.Float64("confidence", suggestion.Confidence))
	callback(suggestion)
}
