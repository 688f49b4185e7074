// Request pipeline.
//
// Every route in this API runs the same ordered stage list:
//
//	decode/validate → authenticate → rate-limit → authorize → execute
//
// with a per-route policy supplying the stages that vary. Cheapest checks run
// first: body decoding and schema validation are pure CPU, credential
// verification is a local HMAC check, the rate limit is one store round trip,
// and role authorization (a table read) is deferred until the request has
// paid for itself. Authentication precedes the rate limit on authenticated
// routes because the subject id is the counter key; public routes key by
// client IP.
//
// Each stage can short-circuit with a terminal error; nothing after a failed
// stage runs, so a rejected request never touches the provider or the
// certificate store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/credentia/go-verify-gateway/internal/auth"
	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/http/middleware"
	"github.com/credentia/go-verify-gateway/internal/limiter"
	"github.com/credentia/go-verify-gateway/internal/services"
)

//
// Service contracts (context-aware)
//

// VerifyService runs AI-backed certificate verification.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type VerifyService interface {
	Verify(ctx context.Context, subjectID, title, issuer, imageBase64 string) (*domain.VerificationResult, error)
}

// LookupService resolves certificate ids for unauthenticated callers.
type LookupService interface {
	Lookup(ctx context.Context, certificateID string) (*domain.LookupResult, error)
}

// RoleService manages subject role assignment and lookup.
type RoleService interface {
	Assign(ctx context.Context, subjectID string, requested domain.Role) (*domain.RoleResult, error)
	RoleOf(ctx context.Context, subjectID string) (domain.Role, error)
}

//
// Handler wiring
//

// Limiters groups the per-route fixed-window limiters.
type Limiters struct {
	Verify *limiter.Limiter
	Lookup *limiter.Limiter
	Roles  *limiter.Limiter
}

// Handlers groups the HTTP endpoints of the verification gateway. It depends
// on abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	verifier  *auth.Verifier
	verifySvc VerifyService
	lookupSvc LookupService
	roleSvc   RoleService
	limits    Limiters
}

// New constructs a Handlers instance bound to the given collaborators.
func New(verifier *auth.Verifier, vs VerifyService, ls LookupService, rs RoleService, limits Limiters) *Handlers {
	return &Handlers{
		verifier:  verifier,
		verifySvc: vs,
		lookupSvc: ls,
		roleSvc:   rs,
		limits:    limits,
	}
}

// identity is the authenticated caller as seen by downstream stages.
type identity struct {
	SubjectID string
	Role      domain.Role
}

// policy parameterizes one route of the pipeline.
type policy struct {
	// defaults are route-specific fields merged into every error envelope
	// (e.g. "verified": false) so callers can render a result shape even on
	// failure.
	defaults gin.H

	// decode parses and schema-validates the body, returning the typed
	// payload or a terminal error.
	decode func(c *gin.Context) (any, *apiError)

	// requireAuth demands a valid bearer credential.
	requireAuth bool

	// requireRole demands the subject hold exactly this role (implies
	// requireAuth).
	requireRole domain.Role

	// limit is the route's fixed-window quota; nil disables.
	limit *limiter.Limiter

	// execute runs the route's business logic and writes the response.
	execute func(c *gin.Context, id identity, payload any)
}

// run executes the ordered stage list for p.
func (h *Handlers) run(p policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1) Decode + schema validation. All violations are logged; only the
		// first is surfaced, to avoid enumerating schema internals for
		// probing clients.
		payload, apiErr := p.decode(c)
		if apiErr != nil {
			if len(apiErr.violations) > 1 {
				middleware.LoggerFrom(c).Warn().
					Strs("violations", apiErr.violations).
					Msg("schema validation failed")
			}
			fail(c, apiErr.status, apiErr.code, apiErr.message, p.defaults)
			return
		}

		// 2) Authenticate.
		var id identity
		if p.requireAuth || p.requireRole != "" {
			sub, err := h.verifier.VerifySubject(c.GetHeader("Authorization"))
			if err != nil {
				msg := "authentication required"
				if errors.Is(err, auth.ErrInvalidCredential) {
					msg = "invalid or expired credential"
				}
				fail(c, http.StatusUnauthorized, ErrCodeUnauthenticated, msg, p.defaults)
				return
			}
			id.SubjectID = sub
			c.Set(middleware.SubjectKey, sub)
		}

		// 3) Rate limit: per subject when authenticated, per client IP
		// otherwise.
		if p.limit != nil {
			who := id.SubjectID
			if who == "" {
				who = c.ClientIP()
			}
			dec := p.limit.Check(c.Request.Context(), who)
			if !dec.Allowed {
				rateLimited(c, dec, p.defaults)
				return
			}
			setRemainingHeader(c, dec)
		}

		// 4) Authorize. A missing role is Forbidden, not Unauthenticated:
		// the credential was fine, the subject just lacks the role.
		if p.requireRole != "" {
			role, err := h.roleSvc.RoleOf(c.Request.Context(), id.SubjectID)
			switch {
			case errors.Is(err, services.ErrNoRole):
				fail(c, http.StatusForbidden, ErrCodeForbidden, "no role assigned for this account", p.defaults)
				return
			case err != nil:
				fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error", p.defaults)
				return
			case role != p.requireRole:
				fail(c, http.StatusForbidden, ErrCodeForbidden, "this operation requires the "+string(p.requireRole)+" role", p.defaults)
				return
			}
			id.Role = role
		}

		// 5) Execute.
		p.execute(c, id, payload)
	}
}

// decodeStrict decodes the request body into dst, rejecting non-JSON bodies
// (invalid_body), unknown fields (schema_violation, fields beyond the
// declared schema are rejected rather than ignored), and trailing content.
func decodeStrict(c *gin.Context, dst any) *apiError {
	if c.Request == nil || c.Request.Body == nil {
		return &apiError{status: http.StatusBadRequest, code: ErrCodeInvalidBody, message: "request body must be JSON"}
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return &apiError{
				status:  http.StatusBadRequest,
				code:    ErrCodeSchema,
				message: "request contains " + err.Error(),
			}
		}
		return &apiError{status: http.StatusBadRequest, code: ErrCodeInvalidBody, message: "request body must be valid JSON"}
	}
	// A JSON document followed by more content is not a valid body.
	if dec.More() {
		return &apiError{status: http.StatusBadRequest, code: ErrCodeInvalidBody, message: "request body must be a single JSON object"}
	}
	_, _ = io.Copy(io.Discard, c.Request.Body)
	return nil
}

// schemaErr builds the terminal error for a set of constraint violations:
// first message surfaced, all retained for logging.
func schemaErr(violations []string) *apiError {
	return &apiError{
		status:     http.StatusBadRequest,
		code:       ErrCodeSchema,
		message:    violations[0],
		violations: violations,
	}
}
