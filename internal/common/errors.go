package common

import "errors"

// Callers should use errors.Is to match these values; most of them are
// returned wrapped with additional context.
var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Gateway errors. The first two are raised before dispatch and leave no
	// side effects behind, so the request can be retried safely.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrValidation          = errors.New("validation error")

	// ErrProviderUnavailable covers network and upstream model failures,
	// both before the first chunk and mid-stream.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrPersistenceUnavailable marks transient storage outages.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrCancelled is reported when a request was cancelled by its caller.
	ErrCancelled = errors.New("cancelled by caller")

	ErrRateLimited = errors.New("rate limited")
)
