package handler

import (
	"net/http"

	"agentex/internal/middleware"
	"agentex/internal/model"
	"agentex/internal/service"
	"agentex/pkg/pagination"
	"agentex/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserHandler struct {
	userService       service.UserService
	assignmentService service.AssignmentService
	auditService      service.AuditService
	authz             service.AuthzService
	authn             *middleware.Authenticator
}

// NewUserHandler sets up the routing dependencies for User endpoints
func NewUserHandler(userService service.UserService, assignmentService service.AssignmentService, auditService service.AuditService, authz service.AuthzService, authn *middleware.Authenticator) *UserHandler {
	return &UserHandler{
		userService:       userService,
		assignmentService: assignmentService,
		auditService:      auditService,
		authz:             authz,
		authn:             authn,
	}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	users := router.Group("/users", h.authn.Authenticate())
	{
		users.GET("", middleware.RequirePermission(h.authz, "users:read"), h.ListUsers)
		users.GET("/:id", middleware.RequirePermission(h.authz, "users:read"), h.GetUser)
		users.POST("", middleware.RequirePermission(h.authz, "users:create"), h.CreateUser)
		users.PUT("/:id", middleware.RequirePermission(h.authz, "users:update"), h.UpdateUser)
		users.PATCH("/:id/active", middleware.RequirePermission(h.authz, "users:update"), h.SetActive)
		users.PATCH("/:id/superuser", middleware.RequirePermission(h.authz, "users:update"), h.SetSuperuser)
		users.DELETE("/:id", middleware.RequirePermission(h.authz, "users:delete"), h.DeleteUser)

		users.GET("/:id/roles", middleware.RequirePermission(h.authz, "roles:read"), h.ListUserRoles)
		users.POST("/:id/roles/:roleId", middleware.RequirePermission(h.authz, "roles:assign"), h.AssignRole)
		users.DELETE("/:id/roles/:roleId", middleware.RequirePermission(h.authz, "roles:assign"), h.RevokeRole)
	}
}

// ListUsers handles GET /users with pagination
// @Summary      List users
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number"
// @Param        limit  query     int  false  "Page size"
// @Success      200    {object}  response.Response{data=pagination.Paged}
// @Router       /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	p := pagination.Parse(c)

	users, total, err := h.userService.ListUsers(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPaged(users, total, p)))
}

// GetUser handles GET /users/:id
// @Summary      Get user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      404  {object}  response.Response
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	user, err := h.userService.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// CreateUser handles POST /users requests mapping
// @Summary      Create a new user
// @Description  Creates a new user validating constraints and hashing password
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateUserRequest  true  "Create User Payload"
// @Success      201      {object}  response.Response{data=service.UserResponse}
// @Failure      409      {object}  response.Response
// @Router       /users [post]
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionCreateUser, user.ID, user.Username, req)
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, user))
}

// UpdateUser handles PUT /users/:id
// @Summary      Update user profile fields
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "User ID"
// @Param        payload  body      service.UpdateUserRequest  true  "Update User Payload"
// @Success      200      {object}  response.Response{data=service.UserResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /users/{id} [put]
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req service.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	user, err := h.userService.UpdateUser(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionUpdateUser, user.ID, user.Username, req)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

type setFlagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// SetActive handles PATCH /users/:id/active
// @Summary      Enable or disable an account
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string          true  "User ID"
// @Param        payload  body      setFlagRequest  true  "Flag Payload"
// @Success      200      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /users/{id}/active [patch]
func (h *UserHandler) SetActive(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.userService.SetActive(c.Request.Context(), id, *req.Value); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionUpdateUser, id.String(), "", gin.H{"is_active": *req.Value})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "User updated successfully"}))
}

// SetSuperuser handles PATCH /users/:id/superuser
// @Summary      Grant or revoke superuser status
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string          true  "User ID"
// @Param        payload  body      setFlagRequest  true  "Flag Payload"
// @Success      200      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /users/{id}/superuser [patch]
func (h *UserHandler) SetSuperuser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.userService.SetSuperuser(c.Request.Context(), id, *req.Value); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionUpdateUser, id.String(), "", gin.H{"is_superuser": *req.Value})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "User updated successfully"}))
}

// DeleteUser handles DELETE /users/:id (soft delete)
// @Summary      Soft delete a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /users/{id} [delete]
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.userService.SoftDeleteUser(c.Request.Context(), id); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionDeleteUser, id.String(), "", nil)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "User deleted successfully"}))
}

// ListUserRoles handles GET /users/:id/roles
// @Summary      List a user's roles
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  response.Response{data=[]model.Role}
// @Failure      404  {object}  response.Response
// @Router       /users/{id}/roles [get]
func (h *UserHandler) ListUserRoles(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	roles, err := h.assignmentService.ListRolesForUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// AssignRole handles POST /users/:id/roles/:roleId
// @Summary      Assign a role to a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "User ID"
// @Param        roleId  path      string  true  "Role ID"
// @Success      201     {object}  response.Response
// @Failure      404     {object}  response.Response
// @Failure      409     {object}  response.Response
// @Router       /users/{id}/roles/{roleId} [post]
func (h *UserHandler) AssignRole(c *gin.Context) {
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}
	roleID, err := uuid.Parse(c.Param("roleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid roleId: must be a UUID"))
		return
	}

	if err := h.assignmentService.AssignRole(c.Request.Context(), userID, roleID); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionAssignRole, userID.String(), "", gin.H{"role_id": roleID})
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{"message": "Role assigned successfully"}))
}

// RevokeRole handles DELETE /users/:id/roles/:roleId
// @Summary      Revoke a role from a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "User ID"
// @Param        roleId  path      string  true  "Role ID"
// @Success      200     {object}  response.Response
// @Router       /users/{id}/roles/{roleId} [delete]
func (h *UserHandler) RevokeRole(c *gin.Context) {
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}
	roleID, err := uuid.Parse(c.Param("roleId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid roleId: must be a UUID"))
		return
	}

	if err := h.assignmentService.RevokeRole(c.Request.Context(), userID, roleID); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	h.recordAudit(c, model.ActionRevokeRole, userID.String(), "", gin.H{"role_id": roleID})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Role revoked successfully"}))
}

func (h *UserHandler) recordAudit(c *gin.Context, action, entityID, entityName string, details interface{}) {
	var actor *uuid.UUID
	if id, ok := middleware.CurrentUserID(c); ok {
		actor = &id
	}
	h.auditService.Record(c.Request.Context(), actor, action, entityID, entityName, details)
}
