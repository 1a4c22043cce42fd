// Package middleware provides the HTTP middleware chain: authentication,
// rate limiting, CORS and request logging.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/auth"
)

// Context keys set by the auth middleware.
const (
	CtxTenantID   = "tenant_id"
	CtxUserID     = "user_id"
	CtxPrincipal  = "principal"
	CtxCredential = "credential"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// AuthMiddleware binds each request to a tenant identity via the gate.
func AuthMiddleware(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		identity, err := gate.Authenticate(c.Request.Context(), extractBearer(c), c.GetHeader("X-API-Key"))
		if err != nil {
			status := http.StatusUnauthorized
			if apperr.IsKind(err, apperr.KindAuthorization) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{
				"status": "error",
				"error":  apperr.KindOf(err).String(),
			})
			c.Abort()
			return
		}

		c.Set(CtxTenantID, identity.TenantID)
		c.Set(CtxUserID, identity.UserID)
		c.Set(CtxPrincipal, identity.Principal)
		c.Set(CtxCredential, identity.Credential)

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
