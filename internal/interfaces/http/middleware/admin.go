package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refnet/backend/internal/interfaces/http/dto"
)

// AdminIDKey is the gin context key holding the verified admin ID
const AdminIDKey = "admin_id"

// AdminHeader carries the caller's identity. Authentication itself happens
// upstream at the gateway; this middleware only checks the directory's
// admin flag for the already-authenticated identity.
const AdminHeader = "X-Admin-ID"

// AdminVerifier checks whether a user holds the admin flag
type AdminVerifier interface {
	IsAdmin(ctx context.Context, id uuid.UUID) (bool, error)
}

// RequireAdmin returns a middleware that rejects requests whose caller is
// not a verified administrator
func RequireAdmin(verifier AdminVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(AdminHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Missing "+AdminHeader+" header"))
			return
		}

		adminID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Malformed "+AdminHeader+" header"))
			return
		}

		// A verifier error fails closed: a caller whose admin flag
		// cannot be confirmed is not an admin.
		isAdmin, err := verifier.IsAdmin(c.Request.Context(), adminID)
		if err != nil || !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponse(dto.ErrCodeForbidden, "Administrator privileges required"))
			return
		}

		c.Set(AdminIDKey, adminID)
		c.Next()
	}
}

// GetAdminID returns the verified admin ID set by RequireAdmin
func GetAdminID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(AdminIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
