// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Each code pairs with exactly one HTTP status (see the table below);
//     handlers never reuse a code with a different status.
//   - All error responses must include both an HTTP status and one of these
//     codes.
//
// Taxonomy:
//
//	unauthenticated          401  missing/malformed/invalid bearer credential
//	forbidden                403  valid identity, insufficient role
//	rate_limited             429  fixed-window quota exceeded
//	invalid_body             400  payload not parseable as JSON
//	schema_violation         400  parsed but fails field constraints
//	not_found                404  route or resource not found
//	method_not_allowed       405  wrong HTTP verb
//	provider_rate_limited    429  upstream verification provider throttled us
//	provider_quota_exhausted 402  upstream provider credits exhausted
//	provider_timeout         504  upstream provider exceeded its deadline
//	internal_error           500  unexpected failure, message sanitized
package handlers

const (
	ErrCodeUnauthenticated = "unauthenticated"
	ErrCodeForbidden       = "forbidden"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInvalidBody     = "invalid_body"
	ErrCodeSchema          = "schema_violation"
	ErrCodeNotFound        = "not_found"
	ErrCodeMethodNotAllow  = "method_not_allowed"
	ErrCodeInternal        = "internal_error"

	// Upstream provider failures, kept distinct so clients can tell "you are
	// throttled" apart from "the verification service is unavailable".
	ErrCodeProviderRateLimited = "provider_rate_limited"
	ErrCodeProviderQuota       = "provider_quota_exhausted"
	ErrCodeProviderTimeout     = "provider_timeout"
)

// apiError is a terminal pipeline error: status, stable code, caller-safe
// message, and (for schema failures) the full violation list for logging.
// Only the first violation is surfaced to the caller.
type apiError struct {
	status     int
	code       string
	message    string
	violations []string
}

func (e *apiError) Error() string { return e.message }
