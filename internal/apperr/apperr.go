// Package apperr defines the error taxonomy shared across pipeline stages.
package apperr

import (
	"errors"
	"fmt"
)

// ErrDuplicateItem marks an item already present in the summary store. It is
// a normal skip outcome, not a failure.
var ErrDuplicateItem = errors.New("duplicate item")

// ConfigError signals missing or invalid settings. Raised at startup or on
// first use, never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransientError wraps network failures that the fetcher retry policy already
// exhausted. Callers may surface it or reschedule the whole item.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient network error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ExternalServiceError covers non-retryable provider failures. Throttled
// distinguishes rate-limit responses so callers can fall back to a secondary
// provider before giving up.
type ExternalServiceError struct {
	Service   string
	Err       error
	Throttled bool
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is an ExternalServiceError classified as
// throttling.
func IsThrottled(err error) bool {
	var ese *ExternalServiceError
	return errors.As(err, &ese) && ese.Throttled
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
