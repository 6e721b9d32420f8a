package handlers

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("agent not initialized")
	ErrBackendUnavailable = errors.New("no backend client is configured")
	ErrValidationFailure  = errors.New("generated script failed validation")
)

// InitializationError wraps the first step of Initialize that failed.
type InitializationError struct {
	Step string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("agent initialization failed at %s: %v", e.Step, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// BackendCallError is returned when a resolved backend fails a call.
type BackendCallError struct {
	Op  string
	Err error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendCallError) Unwrap() error { return e.Err }
