package models

import (
	"errors"
	"fmt"
)

// Sentinel errors of the serving path. Recoverable component-local
// conditions degrade the result; resource exhaustion surfaces to the
// caller as-is and is never folded into a neutral prediction.
var (
	ErrFeatureMissing       = errors.New("feature vector missing")
	ErrFeatureDegraded      = errors.New("feature store degraded to cache-only reads")
	ErrModelNotFound        = errors.New("model not found")
	ErrQueueOverflow        = errors.New("inference queue overflow")
	ErrTimeout              = errors.New("prediction deadline exceeded")
	ErrEnsembleTotalFailure = errors.New("all ensemble members failed")
)

// ValidationError rejects a feature vector or model record, naming the
// offending field. NaN/Infinity features are never silently zeroed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ModelLoadError wraps an artifact load/deserialize failure for one model.
// It poisons only the affected entry, never the whole cache.
type ModelLoadError struct {
	ModelID string
	Version string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s@%s: %v", e.ModelID, e.Version, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// EnsemblePartialFailure records members dropped from an aggregate.
// It is informational: the ensemble result is still produced.
type EnsemblePartialFailure struct {
	Failed map[string]error
}

func (e *EnsemblePartialFailure) Error() string {
	return fmt.Sprintf("ensemble degraded: %d member(s) failed", len(e.Failed))
}
