package handlers

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// runDegraded is the recovery boundary of every interactive operation: an
// error or panic from fn is logged once and replaced by degraded(err).
func runDegraded[T any](s *AgentService, op string, degraded func(err error) T, fn func() (T, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s panicked: %v", op, r)
			s.logger.Error("Operation panicked", zap.String("operation", op), zap.Any("panic", r), zap.Stack("stack"))
			s.metrics.Degraded(op)
			out = degraded(err)
		}
	}()

	res, err := fn()
	if err != nil {
		level := s.logger.Warn
		if errors.Is(err, ErrNotInitialized) {
			level = s.logger.Debug
		}
		level("Operation degraded", zap.String("operation", op), zap.Error(err))
		s.metrics.Degraded(op)
		return degraded(err)
	}
	return res
}
