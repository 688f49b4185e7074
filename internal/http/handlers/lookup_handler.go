package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/credentia/go-verify-gateway/internal/http/middleware"
)

// LookupRequest is the body of POST /certificates/lookup.
type LookupRequest struct {
	CertificateID string `json:"certificateId"`
}

// Lookup handles POST /certificates/lookup. Public endpoint, rate limited per
// client IP. The certificate id is validated as a UUIDv4 before any store
// access so malformed ids never reach the database.
func (h *Handlers) Lookup() gin.HandlerFunc {
	return h.run(policy{
		defaults: gin.H{"found": false},
		limit:    h.limits.Lookup,
		decode: func(c *gin.Context) (any, *apiError) {
			var req LookupRequest
			if err := decodeStrict(c, &req); err != nil {
				return nil, err
			}
			if req.CertificateID == "" {
				return nil, schemaErr([]string{"certificateId is required"})
			}
			id, err := uuid.Parse(req.CertificateID)
			if err != nil || id.Version() != 4 {
				return nil, schemaErr([]string{"certificateId must be a valid UUID"})
			}
			// Canonical lowercase form for the store lookup.
			req.CertificateID = id.String()
			return &req, nil
		},
		execute: func(c *gin.Context, _ identity, payload any) {
			req := payload.(*LookupRequest)
			res, err := h.lookupSvc.Lookup(c.Request.Context(), req.CertificateID)
			if err != nil {
				middleware.LoggerFrom(c).Error().Err(err).Msg("certificate lookup failed")
				fail(c, http.StatusInternalServerError, ErrCodeInternal, "lookup failed", gin.H{"found": false})
				return
			}
			if !res.Found {
				ok(c, http.StatusNotFound, res)
				return
			}
			ok(c, http.StatusOK, res)
		},
	})
}
