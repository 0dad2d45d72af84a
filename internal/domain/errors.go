// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application. Handlers map these to
// HTTP status codes and stable machine-readable kinds; raw wrapped detail
// stays in the logs.
var (
	// ErrValidation is returned when input fails shape or format validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a job, method, or resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when a converter capability reports itself
	// not ready to accept work.
	ErrUnavailable = errors.New("capability unavailable")

	// ErrInvalidParameters is returned when a converter rejects the supplied
	// conversion parameters.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrConflict is returned on an idempotency fingerprint mismatch or a
	// failed optimistic-concurrency precondition.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited is returned when a caller exceeds its tier's window quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConcurrencyLimited is returned when a caller exceeds its tier's
	// concurrency ceiling.
	ErrConcurrencyLimited = errors.New("concurrency limit exceeded")

	// ErrConversionFailed is returned when the external tool fails. The
	// wrapped message is already normalized to a user-safe category.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrOverloaded is returned when the server sheds load under resource
	// pressure.
	ErrOverloaded = errors.New("server overloaded")

	// ErrInternal is returned for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// ErrorKind returns the stable machine-readable kind for an error, used in
// API responses alongside the human-readable message.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConcurrencyLimited):
		return "concurrency_limited"
	case errors.Is(err, ErrConversionFailed):
		return "conversion_failed"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	default:
		return "internal"
	}
}
