package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/authz"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// AuthzHandler serves the decision endpoints.
type AuthzHandler struct {
	service *authz.Service
	logger  logger.Logger
}

func NewAuthzHandler(service *authz.Service, log logger.Logger) *AuthzHandler {
	return &AuthzHandler{service: service, logger: log}
}

// maxBatchSize bounds one batch request.
const maxBatchSize = 100

// POST /api/v1/authorize
func (h *AuthzHandler) Authorize(c *gin.Context) {
	var req models.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	if err := h.bindTenant(c, &req); err != nil {
		writeError(c, err)
		return
	}

	result, err := h.service.Decide(c.Request.Context(), &req, authz.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/v1/authorize/batch
func (h *AuthzHandler) AuthorizeBatch(c *gin.Context) {
	var reqs []*models.DecisionRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}
	if len(reqs) == 0 {
		writeError(c, apperr.New(apperr.KindValidation, "batch is empty"))
		return
	}
	if len(reqs) > maxBatchSize {
		writeError(c, apperr.Newf(apperr.KindValidation, "batch exceeds %d requests", maxBatchSize))
		return
	}

	for _, req := range reqs {
		if err := h.bindTenant(c, req); err != nil {
			writeError(c, err)
			return
		}
	}

	results, err := h.service.DecideBatch(c.Request.Context(), reqs, authz.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// bindTenant enforces tenant isolation: the request evaluates against the
// authenticated tenant; a differing explicit tenant is rejected.
func (h *AuthzHandler) bindTenant(c *gin.Context, req *models.DecisionRequest) error {
	authenticated := tenantID(c)
	if req.TenantID == "" {
		req.TenantID = authenticated
		return nil
	}
	if req.TenantID != authenticated {
		return apperr.New(apperr.KindAuthorization, "request tenant does not match credential")
	}
	return nil
}
