package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/admin"
	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// AdminHandler serves tenant lifecycle and operational endpoints.
type AdminHandler struct {
	service  *admin.Service
	cache    *cache.DecisionCache
	recorder *audit.Recorder
	logger   logger.Logger
}

func NewAdminHandler(service *admin.Service, dc *cache.DecisionCache, rec *audit.Recorder, log logger.Logger) *AdminHandler {
	return &AdminHandler{service: service, cache: dc, recorder: rec, logger: log}
}

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// POST /api/v1/organizations
func (h *AdminHandler) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	org, err := h.service.CreateOrganization(c.Request.Context(), req.Name, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// GET /api/v1/organizations/current
func (h *AdminHandler) GetOrganization(c *gin.Context) {
	org, err := h.service.GetOrganization(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// POST /api/v1/organizations/current/suspend
func (h *AdminHandler) SuspendOrganization(c *gin.Context) {
	if err := h.service.SuspendOrganization(c.Request.Context(), tenantID(c), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "suspended"})
}

// POST /api/v1/organizations/current/restore
func (h *AdminHandler) RestoreOrganization(c *gin.Context) {
	if err := h.service.RestoreOrganization(c.Request.Context(), tenantID(c), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DELETE /api/v1/organizations/current
func (h *AdminHandler) DeleteOrganization(c *gin.Context) {
	if err := h.service.DeleteOrganization(c.Request.Context(), tenantID(c), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/admin/cache/invalidate
func (h *AdminHandler) InvalidateTenantCache(c *gin.Context) {
	tenant := tenantID(c)
	h.cache.InvalidateTenant(c.Request.Context(), tenant)
	h.logger.Info("tenant cache invalidated by admin", "tenant", tenant, "actor", actorID(c))
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// GET /api/v1/admin/cache/stats
func (h *AdminHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":        h.cache.Stats(),
		"auditDropped": h.recorder.Dropped(),
		"auditQueue":   h.recorder.QueueDepth(),
	})
}
