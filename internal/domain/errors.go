package domain

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when an upstream call would exceed the request
// budget. It is retryable: callers are expected to fall back to cached data
// and let the next scheduling cycle retry the fetch.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrNotFound is returned by repositories when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError represents invalid caller input (bad product ref, non-positive
// price or budget). It is surfaced synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UpstreamError wraps a failure talking to the upstream price-data provider.
// Retryable errors (rate limits, 5xx, network failures) degrade to cached
// data where a cache entry exists; non-retryable errors propagate.
type UpstreamError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err represents a transient upstream condition
// that a caller may retry later (or satisfy from a stale cache entry).
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}
