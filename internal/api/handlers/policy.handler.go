package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/policy"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// PolicyHandler serves the policy lifecycle endpoints.
type PolicyHandler struct {
	service *policy.Service
	logger  logger.Logger
}

func NewPolicyHandler(service *policy.Service, log logger.Logger) *PolicyHandler {
	return &PolicyHandler{service: service, logger: log}
}

type createPolicyRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	Content     string `json:"content"`
}

// POST /api/v1/policies
func (h *PolicyHandler) Create(c *gin.Context) {
	var req createPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	ptype := models.PolicyTypeRego
	if req.Type != "" {
		parsed, err := models.ParsePolicyType(req.Type)
		if err != nil {
			writeError(c, apperr.Wrap(apperr.KindValidation, "invalid policy type", err))
			return
		}
		ptype = parsed
	}

	p, v, err := h.service.Create(c.Request.Context(), tenantID(c), req.Name, req.DisplayName, ptype, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"policy": p, "version": v})
}

// GET /api/v1/policies
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.service.List(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// GET /api/v1/policies/:policyId
func (h *PolicyHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), tenantID(c), c.Param("policyId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type updatePolicyContentRequest struct {
	Content string `json:"content" binding:"required"`
}

// PUT /api/v1/policies/:policyId/content
func (h *PolicyHandler) UpdateContent(c *gin.Context) {
	var req updatePolicyContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	v, err := h.service.UpdateContent(c.Request.Context(), tenantID(c), c.Param("policyId"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type publishPolicyRequest struct {
	Version int `json:"version"`
}

// POST /api/v1/policies/:policyId/publish
func (h *PolicyHandler) Publish(c *gin.Context) {
	var req publishPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	if err := h.service.Publish(c.Request.Context(), tenantID(c), c.Param("policyId"), req.Version); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "published"})
}

// POST /api/v1/policies/:policyId/archive
func (h *PolicyHandler) Archive(c *gin.Context) {
	if err := h.service.Archive(c.Request.Context(), tenantID(c), c.Param("policyId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// POST /api/v1/policies/:policyId/restore
func (h *PolicyHandler) Restore(c *gin.Context) {
	if err := h.service.Restore(c.Request.Context(), tenantID(c), c.Param("policyId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DELETE /api/v1/policies/:policyId
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), tenantID(c), c.Param("policyId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/policies/:policyId/versions
func (h *PolicyHandler) ListVersions(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), tenantID(c), c.Param("policyId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// POST /api/v1/policies/:policyId/versions/:version/validate
func (h *PolicyHandler) Revalidate(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		writeError(c, apperr.New(apperr.KindValidation, "version must be an integer"))
		return
	}

	v, err := h.service.Revalidate(c.Request.Context(), tenantID(c), c.Param("policyId"), version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /api/v1/policies/:policyId/versions/:version
func (h *PolicyHandler) GetVersion(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		writeError(c, apperr.New(apperr.KindValidation, "version must be an integer"))
		return
	}

	v, err := h.service.GetVersion(c.Request.Context(), tenantID(c), c.Param("policyId"), version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
