package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// AuditHandler serves the audit query and export endpoints.
type AuditHandler struct {
	service *audit.Service
	logger  logger.Logger
}

func NewAuditHandler(service *audit.Service, log logger.Logger) *AuditHandler {
	return &AuditHandler{service: service, logger: log}
}

// queryFromParams builds the storage query from URL parameters. from/to are
// RFC3339 and mandatory.
func (h *AuditHandler) queryFromParams(c *gin.Context) (storage.AuditQuery, error) {
	q := storage.AuditQuery{TenantID: tenantID(c)}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return q, apperr.New(apperr.KindValidation, "from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return q, apperr.New(apperr.KindValidation, "to must be RFC3339")
	}
	q.From, q.To = from, to

	optional := func(name string) *string {
		if v := c.Query(name); v != "" {
			return &v
		}
		return nil
	}
	q.EventType = optional("eventType")
	q.ActorID = optional("actor")
	q.ResourceType = optional("resourceType")
	q.ResourceID = optional("resourceId")
	q.Action = optional("action")
	q.Decision = optional("decision")
	q.IPAddress = optional("ip")

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return q, apperr.New(apperr.KindValidation, "limit must be a non-negative integer")
		}
		q.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return q, apperr.New(apperr.KindValidation, "offset must be a non-negative integer")
		}
		q.Offset = offset
	}
	return q, nil
}

// GET /api/v1/audit
func (h *AuditHandler) Query(c *gin.Context) {
	q, err := h.queryFromParams(c)
	if err != nil {
		writeError(c, err)
		return
	}

	entries, err := h.service.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GET /api/v1/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	q, err := h.queryFromParams(c)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="audit-export.csv"`)
	if err := h.service.ExportCSV(c.Request.Context(), q, c.Writer); err != nil {
		h.logger.Error("audit export failed", "tenant", q.TenantID, "error", err)
		// Headers may already be written; nothing more to do.
	}
}
