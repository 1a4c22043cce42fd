package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/admin"
	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// RBACAdminHandler serves role, permission and grant management.
type RBACAdminHandler struct {
	service *admin.Service
	logger  logger.Logger
}

func NewRBACAdminHandler(service *admin.Service, log logger.Logger) *RBACAdminHandler {
	return &RBACAdminHandler{service: service, logger: log}
}

/* ------------------------------------- roles ------------------------------------ */

type createRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"displayName"`
	ParentID    string `json:"parentId"`
}

// POST /api/v1/roles
func (h *RBACAdminHandler) CreateRole(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	role, err := h.service.CreateRole(c.Request.Context(), tenantID(c), req.Name, req.DisplayName, req.ParentID, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// GET /api/v1/roles
func (h *RBACAdminHandler) ListRoles(c *gin.Context) {
	roles, err := h.service.ListRoles(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// GET /api/v1/roles/:roleId
func (h *RBACAdminHandler) GetRole(c *gin.Context) {
	role, err := h.service.GetRole(c.Request.Context(), tenantID(c), c.Param("roleId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

type updateRoleRequest struct {
	Name        string            `json:"name" binding:"required"`
	DisplayName string            `json:"displayName"`
	ParentID    string            `json:"parentId"`
	Metadata    map[string]string `json:"metadata"`
}

// PUT /api/v1/roles/:roleId
func (h *RBACAdminHandler) UpdateRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	role := &models.Role{
		ID:          c.Param("roleId"),
		OrgID:       tenantID(c),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		ParentID:    req.ParentID,
		Metadata:    req.Metadata,
	}
	if err := h.service.UpdateRole(c.Request.Context(), tenantID(c), role, actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// DELETE /api/v1/roles/:roleId
func (h *RBACAdminHandler) DeleteRole(c *gin.Context) {
	if err := h.service.DeleteRole(c.Request.Context(), tenantID(c), c.Param("roleId"), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ---------------------------------- permissions --------------------------------- */

type createPermissionRequest struct {
	Name         string                 `json:"name" binding:"required"`
	ResourceType string                 `json:"resourceType" binding:"required"`
	Action       string                 `json:"action" binding:"required"`
	Effect       string                 `json:"effect"`
	Conditions   map[string]interface{} `json:"conditions"`
}

// POST /api/v1/permissions
func (h *RBACAdminHandler) CreatePermission(c *gin.Context) {
	var req createPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	p, err := h.service.CreatePermission(c.Request.Context(), &models.Permission{
		OrgID:        tenantID(c),
		Name:         req.Name,
		ResourceType: req.ResourceType,
		Action:       req.Action,
		Effect:       models.PermissionEffect(req.Effect),
		Conditions:   req.Conditions,
	}, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GET /api/v1/permissions
func (h *RBACAdminHandler) ListPermissions(c *gin.Context) {
	perms, err := h.service.ListPermissions(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// DELETE /api/v1/permissions/:permissionId
func (h *RBACAdminHandler) DeletePermission(c *gin.Context) {
	if err := h.service.DeletePermission(c.Request.Context(), tenantID(c), c.Param("permissionId"), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PUT /api/v1/roles/:roleId/permissions/:permissionId
func (h *RBACAdminHandler) AttachPermission(c *gin.Context) {
	err := h.service.AttachPermission(c.Request.Context(), tenantID(c), c.Param("roleId"), c.Param("permissionId"), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /api/v1/roles/:roleId/permissions/:permissionId
func (h *RBACAdminHandler) DetachPermission(c *gin.Context) {
	err := h.service.DetachPermission(c.Request.Context(), tenantID(c), c.Param("roleId"), c.Param("permissionId"), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ------------------------------------- users ------------------------------------ */

type createUserRequest struct {
	Email      string                 `json:"email" binding:"required"`
	Username   string                 `json:"username"`
	ExternalID string                 `json:"externalId"`
	Attributes map[string]interface{} `json:"attributes"`
}

// POST /api/v1/users
func (h *RBACAdminHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), &models.User{
		OrgID:      tenantID(c),
		Email:      req.Email,
		Username:   req.Username,
		ExternalID: req.ExternalID,
		Attributes: req.Attributes,
	}, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GET /api/v1/users
func (h *RBACAdminHandler) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type updateUserRequest struct {
	Email      string                 `json:"email" binding:"required"`
	Username   string                 `json:"username"`
	Status     string                 `json:"status" binding:"required"`
	Attributes map[string]interface{} `json:"attributes"`
}

// PUT /api/v1/users/:userId
func (h *RBACAdminHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}
	status, err := models.ParseUserStatus(req.Status)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "invalid status", err))
		return
	}

	existing, err := h.service.GetUser(c.Request.Context(), tenantID(c), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	existing.Email = req.Email
	existing.Username = req.Username
	existing.Status = status
	existing.Attributes = req.Attributes

	if err := h.service.UpdateUser(c.Request.Context(), tenantID(c), existing, actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

// DELETE /api/v1/users/:userId
func (h *RBACAdminHandler) DeleteUser(c *gin.Context) {
	if err := h.service.DeleteUser(c.Request.Context(), tenantID(c), c.Param("userId"), actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ---------------------------------- user roles ---------------------------------- */

type assignRoleRequest struct {
	RoleID       string     `json:"roleId" binding:"required"`
	ResourceType string     `json:"resourceType"`
	ResourceID   string     `json:"resourceId"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// POST /api/v1/users/:userId/roles
func (h *RBACAdminHandler) AssignRole(c *gin.Context) {
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return
	}

	grant := &models.UserRole{
		UserID:       c.Param("userId"),
		RoleID:       req.RoleID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := h.service.AssignRole(c.Request.Context(), tenantID(c), grant, actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// DELETE /api/v1/users/:userId/roles/:roleId
func (h *RBACAdminHandler) RevokeRole(c *gin.Context) {
	err := h.service.RevokeRole(c.Request.Context(), tenantID(c),
		c.Param("userId"), c.Param("roleId"),
		c.Query("resourceType"), c.Query("resourceId"), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
