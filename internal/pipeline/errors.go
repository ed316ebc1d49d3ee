package pipeline

import "errors"

// Sentinel errors mapped to transport responses by the API layer.
var (
	// ErrQuotaExceeded is returned when a standard-tier user has used
	// their daily allowance.
	ErrQuotaExceeded = errors.New("daily question quota exceeded")

	// ErrUpstreamUnavailable is returned when the completion backend
	// cannot produce an answer.
	ErrUpstreamUnavailable = errors.New("completion backend unavailable")

	// ErrMalformedInput is returned for empty or oversized questions.
	ErrMalformedInput = errors.New("malformed question")
)
