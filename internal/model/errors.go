package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. The orchestrator never inspects error
// internals beyond the kind; it records message, stage, and duration.
type ErrorKind string

const (
	ErrConfig       ErrorKind = "config"
	ErrConnectivity ErrorKind = "connectivity"
	ErrData         ErrorKind = "data"
	ErrCancelled    ErrorKind = "cancelled"
	ErrLoader       ErrorKind = "loader"
)

// ErrNotFound marks lookups of missing pipelines or runs.
var ErrNotFound = errors.New("not found")

// EngineError wraps a failure with its kind and, once known, the stage it
// happened in.
type EngineError struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *EngineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// Errorf wraps a formatted message with a kind.
func Errorf(kind ErrorKind, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or "" when it carries none.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsCancelled reports whether err carries the cancellation marker, including
// raw context cancellation bubbling up from an adapter.
func IsCancelled(err error) bool {
	return KindOf(err) == ErrCancelled || errors.Is(err, context.Canceled)
}
