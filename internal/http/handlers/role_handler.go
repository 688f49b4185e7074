package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/http/middleware"
	"github.com/credentia/go-verify-gateway/internal/services"
)

// RoleRequest is the body of POST /roles.
type RoleRequest struct {
	RequestedRole string `json:"requestedRole"`
}

// AssignRole handles POST /roles. Requires a valid bearer credential but no
// existing role; assignment is idempotent, so re-requesting the same role
// succeeds.
func (h *Handlers) AssignRole() gin.HandlerFunc {
	return h.run(policy{
		defaults:    gin.H{"success": false},
		requireAuth: true,
		limit:       h.limits.Roles,
		decode: func(c *gin.Context) (any, *apiError) {
			var req RoleRequest
			if err := decodeStrict(c, &req); err != nil {
				return nil, err
			}
			if req.RequestedRole == "" {
				return nil, schemaErr([]string{"requestedRole is required"})
			}
			// Enum membership is a schema constraint, so it is rejected
			// here, before the quota counter is consumed.
			if !domain.Role(req.RequestedRole).Valid() {
				return nil, schemaErr([]string{"requestedRole must be one of candidate, recruiter, institution"})
			}
			return &req, nil
		},
		execute: func(c *gin.Context, id identity, payload any) {
			req := payload.(*RoleRequest)
			res, err := h.roleSvc.Assign(c.Request.Context(), id.SubjectID, domain.Role(req.RequestedRole))
			if err != nil {
				if errors.Is(err, services.ErrInvalidRole) {
					fail(c, http.StatusBadRequest, ErrCodeSchema, "requestedRole must be one of candidate, recruiter, institution", gin.H{"success": false})
					return
				}
				middleware.LoggerFrom(c).Error().Err(err).Msg("role assignment failed")
				fail(c, http.StatusInternalServerError, ErrCodeInternal, "role assignment failed", gin.H{"success": false})
				return
			}
			ok(c, http.StatusOK, res)
		},
	})
}
