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

type RoleHandler struct {
	roleService       service.RoleService
	assignmentService service.AssignmentService
	auditService      service.AuditService
	authz             service.AuthzService
	authn             *middleware.Authenticator
}

func NewRoleHandler(roleService service.RoleService, assignmentService service.AssignmentService, auditService service.AuditService, authz service.AuthzService, authn *middleware.Authenticator) *RoleHandler {
	return &RoleHandler{
		roleService:       roleService,
		assignmentService: assignmentService,
		auditService:      auditService,
		authz:             authz,
		authn:             authn,
	}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/roles", h.authn.Authenticate())
	{
		roles.GET("", middleware.RequirePermission(h.authz, "roles:read"), h.ListRoles)
		roles.GET("/:id", middleware.RequirePermission(h.authz, "roles:read"), h.GetRole)
		roles.POST("", middleware.RequirePermission(h.authz, "roles:create"), h.CreateRole)
		roles.PUT("/:id", middleware.RequirePermission(h.authz, "roles:update"), h.UpdateRole)
		roles.DELETE("/:id", middleware.RequirePermission(h.authz, "roles:delete"), h.DeleteRole)

		roles.GET("/:id/permissions", middleware.RequirePermission(h.authz, "roles:read"), h.ListRolePermissions)
		roles.PUT("/:id/permissions", middleware.RequirePermission(h.authz, "roles:update"), h.ReplacePermissions)
		roles.POST("/:id/permissions/:permId", middleware.RequirePermission(h.authz, "roles:update"), h.GrantPermission)
		roles.DELETE("/:id/permissions/:permId", middleware.RequirePermission(h.authz, "roles:update"), h.RevokePermission)
	}
}

// ListRoles returns all roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.RoleResponse}
// @Router       /roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// GetRole returns a single role by ID
// @Summary      Get role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=service.RoleResponse}
// @Failure      404  {object}  response.Response
// @Router       /roles/{id} [get]
func (h *RoleHandler) GetRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	role, err := h.roleService.GetRole(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// CreateRole creates a new custom role
// @Summary      Create role
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRoleRequest  true  "Create Role Payload"
// @Success      201      {object}  response.Response{data=service.RoleResponse}
// @Failure      409      {object}  response.Response
// @Router       /roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionCreateRole, role.ID, role.Name, req)
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole updates a role's name, display name and description
// @Summary      Update role
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Role ID"
// @Param        payload  body      service.UpdateRoleRequest  true  "Update Role Payload"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionUpdateRole, role.ID, role.Name, req)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole deletes a non-system role. Soft delete by default; pass
// ?hard=true to remove the row and its associations permanently.
// @Summary      Delete role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string  true   "Role ID"
// @Param        hard  query     bool    false  "Permanently delete"
// @Success      200   {object}  response.Response
// @Failure      403   {object}  response.Response
// @Failure      404   {object}  response.Response
// @Router       /roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var err error
	if c.Query("hard") == "true" {
		err = h.roleService.HardDeleteRole(c.Request.Context(), id)
	} else {
		err = h.roleService.SoftDeleteRole(c.Request.Context(), id)
	}
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionDeleteRole, id.String(), "", gin.H{"hard": c.Query("hard") == "true"})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Role deleted successfully"}))
}

// ListRolePermissions returns the role's permissions in grant order
// @Summary      List role permissions
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=[]model.Permission}
// @Failure      404  {object}  response.Response
// @Router       /roles/{id}/permissions [get]
func (h *RoleHandler) ListRolePermissions(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	perms, err := h.assignmentService.ListPermissionsForRole(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

type replacePermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids" binding:"required"`
}

// ReplacePermissions swaps the role's permission set for the given IDs
// @Summary      Replace role permissions
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Role ID"
// @Param        payload  body      replacePermissionsRequest  true  "Permission IDs"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      404      {object}  response.Response
// @Router       /roles/{id}/permissions [put]
func (h *RoleHandler) ReplacePermissions(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req replacePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.assignmentService.ReplacePermissions(c.Request.Context(), id, req.PermissionIDs); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	role, err := h.roleService.GetRole(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionGrantPermission, id.String(), role.Name, req)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// GrantPermission adds one permission to a role
// @Summary      Grant permission to role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Role ID"
// @Param        permId  path      string  true  "Permission ID"
// @Success      201     {object}  response.Response
// @Failure      404     {object}  response.Response
// @Failure      409     {object}  response.Response
// @Router       /roles/{id}/permissions/{permId} [post]
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	roleID, ok := parseIDParam(c)
	if !ok {
		return
	}
	permID, err := uuid.Parse(c.Param("permId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid permId: must be a UUID"))
		return
	}

	if err := h.assignmentService.GrantPermission(c.Request.Context(), roleID, permID); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionGrantPermission, roleID.String(), "", gin.H{"permission_id": permID})
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{"message": "Permission granted successfully"}))
}

// RevokePermission removes one permission from a role
// @Summary      Revoke permission from role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Role ID"
// @Param        permId  path      string  true  "Permission ID"
// @Success      200     {object}  response.Response
// @Router       /roles/{id}/permissions/{permId} [delete]
func (h *RoleHandler) RevokePermission(c *gin.Context) {
	roleID, ok := parseIDParam(c)
	if !ok {
		return
	}
	permID, err := uuid.Parse(c.Param("permId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid permId: must be a UUID"))
		return
	}

	if err := h.assignmentService.RevokePermission(c.Request.Context(), roleID, permID); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionRevokePermission, roleID.String(), "", gin.H{"permission_id": permID})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Permission revoked successfully"}))
}

func (h *RoleHandler) recordAudit(c *gin.Context, action, entityID, entityName string, details interface{}) {
	var actor *uuid.UUID
	if id, ok := middleware.CurrentUserID(c); ok {
		actor = &id
	}
	h.auditService.Record(c.Request.Context(), actor, action, entityID, entityName, details)
}
