// Package handlers contains the HTTP handlers for the authorization
// platform API.
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/api/middleware"
)

// writeError maps a typed service error to its HTTP representation.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Wrap(apperr.KindInternal, "unexpected error", err)
	}

	body := gin.H{
		"status":  "error",
		"error":   appErr.Kind.String(),
		"message": appErr.Msg,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.HTTPStatus(), body)
}

// tenantID returns the authenticated tenant bound by the gate.
func tenantID(c *gin.Context) string {
	return c.GetString(middleware.CtxTenantID)
}

// actorID returns the authenticated user, if the credential carried one.
func actorID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}
