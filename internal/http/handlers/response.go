// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints, including the structured error envelope, consistent JSON
// serialization, and rate-limit response headers. The goal is a uniform
// shape for both success and failure so the API stays machine-friendly.
//
// Conventions:
//   - All error responses carry the envelope {request_id, code, error} plus
//     any route-specific defaults (e.g. "verified": false on the
//     verification route) so callers can always render something sensible.
//   - `fail()` centralizes error logging and formatting; 5xx responses are
//     logged with request context and the caller-facing message is
//     sanitized.
//   - Rate-limit outcomes attach X-RateLimit-* headers: Remaining on allowed
//     requests, Limit/Remaining/Reset on 429s.
//
// Example error response:
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "rate_limited",
//	  "error": "rate limit exceeded, try again later"
//	}
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/credentia/go-verify-gateway/internal/http/middleware"
	"github.com/credentia/go-verify-gateway/internal/limiter"
)

// fail aborts the request with the structured error envelope, merged with
// any route-specific default fields, and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string, defaults gin.H) {
	body := gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"error":      msg,
	}
	for k, v := range defaults {
		body[k] = v
	}

	// Log 5xx (server-side) with request-scoped logger.
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, body)
}

// Fail is the exported variant of fail() without route defaults.
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg, nil) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// setRemainingHeader reports the post-consume window budget on allowed
// requests.
func setRemainingHeader(c *gin.Context, dec limiter.Decision) {
	c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
}

// rateLimited writes the 429 response for an exhausted window: full
// X-RateLimit headers (Reset is Unix seconds) plus the error envelope with
// the route's default fields.
func rateLimited(c *gin.Context, dec limiter.Decision, defaults gin.H) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(dec.ResetTime.Unix(), 10))
	c.Header("Retry-After", strconv.FormatInt(max64(1, dec.ResetTime.Unix()-nowUnix()), 10))
	fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, try again later", defaults)
}

func nowUnix() int64 { return time.Now().Unix() }

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
