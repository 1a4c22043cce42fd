package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store  storage.Store
	cache  cache.DistributedCache
	logger logger.Logger
}

func NewHealthHandler(store storage.Store, c cache.DistributedCache, log logger.Logger) *HealthHandler {
	return &HealthHandler{store: store, cache: c, logger: log}
}

// GET /health/live — process is up.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "authz-core",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /health/ready — aggregate subsystem health. The distributed cache is
// reported but not required: the platform degrades to L1-only service.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true

	if err := h.store.HealthCheck(ctx); err != nil {
		components["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		components["database"] = gin.H{"status": "healthy"}
	}

	if err := h.cache.HealthCheck(ctx); err != nil {
		components["cache"] = gin.H{"status": "degraded", "error": err.Error()}
	} else {
		components["cache"] = gin.H{"status": "healthy"}
	}

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}
