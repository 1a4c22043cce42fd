package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// RequestLogger logs one line per request with latency and identity fields.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if tenantID := c.GetString(CtxTenantID); tenantID != "" {
			fields = append(fields, "tenant", tenantID)
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("request completed", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}
