package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a normal lookup outcome, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned before any I/O happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable marks a category the provider cannot serve
	// (tier-gated endpoint, timeout). It degrades to an empty result.
	ErrUpstreamUnavailable = errors.New("upstream category unavailable")

	// ErrUpstreamTransient marks a retryable provider failure.
	ErrUpstreamTransient = errors.New("upstream transient failure")

	// ErrUpstreamAuth means the provider rejected our credentials. It fails
	// the category rather than degrading it.
	ErrUpstreamAuth = errors.New("upstream rejected credentials")

	// ErrStoreWrite marks a failed durable write for one category.
	ErrStoreWrite = errors.New("store write failed")
)

// InvalidInputf wraps ErrInvalidInput with a formatted reason.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ErrorKind returns a short label for the sentinel err wraps, for metrics
// and per-category sync outcomes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUpstreamTransient):
		return "transient"
	case errors.Is(err, ErrUpstreamAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreWrite):
		return "store_write"
	}
	return "error"
}
