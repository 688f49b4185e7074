package handlers

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/http/middleware"
	"github.com/credentia/go-verify-gateway/internal/provider"
)

// maxEvidenceBytes caps the base64 payload of an attached certificate image.
const maxEvidenceBytes = 15 << 20

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Title       string `json:"title"`
	Issuer      string `json:"issuer"`
	ImageBase64 string `json:"imageBase64"`
}

// Verify handles POST /verify. Requires a valid bearer credential and the
// candidate role; rate limited per subject.
func (h *Handlers) Verify() gin.HandlerFunc {
	return h.run(policy{
		defaults:    gin.H{"verified": false},
		requireRole: domain.RoleCandidate,
		limit:       h.limits.Verify,
		decode: func(c *gin.Context) (any, *apiError) {
			var req VerifyRequest
			if err := decodeStrict(c, &req); err != nil {
				return nil, err
			}
			var violations []string
			if req.Title == "" {
				violations = append(violations, "title is required")
			} else if utf8.RuneCountInString(req.Title) > 200 {
				violations = append(violations, "title must be at most 200 characters")
			}
			if req.Issuer == "" {
				violations = append(violations, "issuer is required")
			} else if utf8.RuneCountInString(req.Issuer) > 200 {
				violations = append(violations, "issuer must be at most 200 characters")
			}
			if len(req.ImageBase64) > maxEvidenceBytes {
				violations = append(violations, "imageBase64 exceeds the maximum size of 15 MB")
			}
			if len(violations) > 0 {
				return nil, schemaErr(violations)
			}
			return &req, nil
		},
		execute: func(c *gin.Context, id identity, payload any) {
			req := payload.(*VerifyRequest)
			res, err := h.verifySvc.Verify(c.Request.Context(), id.SubjectID, req.Title, req.Issuer, req.ImageBase64)
			if err != nil {
				switch {
				case errors.Is(err, provider.ErrRateLimited):
					fail(c, http.StatusTooManyRequests, ErrCodeProviderRateLimited, "verification provider is rate limited, try again later", gin.H{"verified": false})
				case errors.Is(err, provider.ErrQuotaExhausted):
					fail(c, http.StatusPaymentRequired, ErrCodeProviderQuota, "verification quota exhausted", gin.H{"verified": false})
				case errors.Is(err, provider.ErrTimeout):
					fail(c, http.StatusGatewayTimeout, ErrCodeProviderTimeout, "verification provider timed out", gin.H{"verified": false})
				default:
					middleware.LoggerFrom(c).Error().Err(err).Msg("verification failed")
					fail(c, http.StatusInternalServerError, ErrCodeInternal, "verification failed", gin.H{"verified": false})
				}
				return
			}
			ok(c, http.StatusOK, res)
		},
	})
}
