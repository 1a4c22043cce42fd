package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/ratelimit"
)

// RateLimiter rejects requests whose credential has exhausted its token
// bucket. Runs after authentication so the credential is known.
func RateLimiter(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		credential := c.GetString(CtxCredential)
		if credential == "" {
			credential = c.ClientIP()
		}

		ok, retryAt := limiter.Allow(c.Request.Context(), credential)
		if !ok {
			monitoring.RecordRateLimited()
			retryAfter := int(time.Until(retryAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":    "error",
				"error":     "rate_limited",
				"windowEnd": retryAt.UTC().Format(time.RFC3339),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
