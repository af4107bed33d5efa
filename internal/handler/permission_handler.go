package handler

import (
	"net/http"

	"agentex/internal/middleware"
	"agentex/internal/model"
	"agentex/internal/service"
	"agentex/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PermissionHandler struct {
	permissionService service.PermissionService
	auditService      service.AuditService
	authz             service.AuthzService
	authn             *middleware.Authenticator
}

func NewPermissionHandler(permissionService service.PermissionService, auditService service.AuditService, authz service.AuthzService, authn *middleware.Authenticator) *PermissionHandler {
	return &PermissionHandler{
		permissionService: permissionService,
		auditService:      auditService,
		authz:             authz,
		authn:             authn,
	}
}

func (h *PermissionHandler) RegisterRoutes(router *gin.RouterGroup) {
	perms := router.Group("/permissions", h.authn.Authenticate())
	{
		perms.GET("", middleware.RequirePermission(h.authz, "roles:read"), h.ListPermissions)
		perms.GET("/:id", middleware.RequirePermission(h.authz, "roles:read"), h.GetPermission)
		perms.POST("", middleware.RequirePermission(h.authz, "roles:update"), h.CreatePermission)
		perms.PUT("/:id", middleware.RequirePermission(h.authz, "roles:update"), h.UpdatePermission)
		perms.DELETE("/:id", middleware.RequirePermission(h.authz, "roles:update"), h.DeletePermission)
	}
}

// ListPermissions returns the whole catalog ordered by module and action
// @Summary      List permissions
// @Tags         permissions
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.PermissionResponse}
// @Router       /permissions [get]
func (h *PermissionHandler) ListPermissions(c *gin.Context) {
	perms, err := h.permissionService.ListPermissions(c.Request.Context())
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

// GetPermission returns a single permission by ID
// @Summary      Get permission
// @Tags         permissions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Permission ID"
// @Success      200  {object}  response.Response{data=service.PermissionResponse}
// @Failure      404  {object}  response.Response
// @Router       /permissions/{id} [get]
func (h *PermissionHandler) GetPermission(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	perm, err := h.permissionService.GetPermission(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perm))
}

// CreatePermission registers a new module:action pair in the catalog
// @Summary      Create permission
// @Tags         permissions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreatePermissionRequest  true  "Create Permission Payload"
// @Success      201      {object}  response.Response{data=service.PermissionResponse}
// @Failure      409      {object}  response.Response
// @Router       /permissions [post]
func (h *PermissionHandler) CreatePermission(c *gin.Context) {
	var req service.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	perm, err := h.permissionService.CreatePermission(c.Request.Context(), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionCreatePermission, perm.ID, perm.Name, req)
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, perm))
}

// UpdatePermission edits a permission's description; module, action and name
// are immutable
// @Summary      Update permission description
// @Tags         permissions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Permission ID"
// @Param        payload  body      service.UpdatePermissionRequest  true  "Update Permission Payload"
// @Success      200      {object}  response.Response{data=service.PermissionResponse}
// @Failure      404      {object}  response.Response
// @Router       /permissions/{id} [put]
func (h *PermissionHandler) UpdatePermission(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req service.UpdatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	perm, err := h.permissionService.UpdateDescription(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, perm))
}

// DeletePermission removes a permission and revokes it from every role
// @Summary      Delete permission
// @Tags         permissions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Permission ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /permissions/{id} [delete]
func (h *PermissionHandler) DeletePermission(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.permissionService.HardDeletePermission(c.Request.Context(), id); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionDeletePermission, id.String(), "", nil)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Permission deleted successfully"}))
}

func (h *PermissionHandler) recordAudit(c *gin.Context, action, entityID, entityName string, details interface{}) {
	var actor *uuid.UUID
	if id, ok := middleware.CurrentUserID(c); ok {
		actor = &id
	}
	h.auditService.Record(c.Request.Context(), actor, action, entityID, entityName, details)
}
