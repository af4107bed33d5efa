package handler

import (
	"net/http"

	"agentex/internal/middleware"
	"agentex/internal/service"
	"agentex/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthHandler struct {
	authService service.AuthService
	userService service.UserService
	authn       *middleware.Authenticator
}

// NewAuthHandler sets up the routing dependencies for authentication endpoints
func NewAuthHandler(authService service.AuthService, userService service.UserService, authn *middleware.Authenticator) *AuthHandler {
	return &AuthHandler{authService: authService, userService: userService, authn: authn}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *AuthHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := router.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.RefreshToken)
	}

	me := router.Group("/auth", h.authn.Authenticate())
	{
		me.GET("/me", h.GetMe)
		me.POST("/change-password", h.ChangePassword)
		me.POST("/api-keys", h.CreateAPIKey)
		me.GET("/api-keys", h.ListAPIKeys)
		me.DELETE("/api-keys/:id", h.DeleteAPIKey)
	}
}

// Register creates a new account with the default role
// @Summary      Register
// @Description  Creates an account, assigns the default role and returns a token pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RegisterRequest  true  "Register Payload"
// @Success      201      {object}  response.Response{data=service.RegisterResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// Login verifies credentials and returns a token pair
// @Summary      Login
// @Description  Verifies username/password and returns access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginRequest  true  "Login Payload"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      401      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	tokens, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokens))
}

// RefreshToken exchanges a refresh token for a new token pair
// @Summary      Refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RefreshRequest  true  "Refresh Payload"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      401      {object}  response.Response
// @Router       /auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req service.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokens))
}

// GetMe returns the caller's profile and resolved permissions
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.MeResponse}
// @Failure      401  {object}  response.Response
// @Router       /auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	me, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, me))
}

// ChangePassword updates the caller's own password
// @Summary      Change password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ChangePasswordRequest  true  "Change Password Payload"
// @Success      200      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.userService.ChangePassword(c.Request.Context(), userID, req); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Password changed successfully"}))
}

// CreateAPIKey mints a new API key for the caller
// @Summary      Create API key
// @Description  Returns the raw key exactly once; only its hash is stored
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateAPIKeyRequest  true  "Create API Key Payload"
// @Success      201      {object}  response.Response{data=service.CreateAPIKeyResponse}
// @Router       /auth/api-keys [post]
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	var req service.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.userService.CreateAPIKey(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// ListAPIKeys lists the caller's API keys
// @Summary      List API keys
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.APIKeyResponse}
// @Router       /auth/api-keys [get]
func (h *AuthHandler) ListAPIKeys(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	keys, err := h.userService.ListAPIKeys(c.Request.Context(), userID)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, keys))
}

// DeleteAPIKey revokes one of the caller's API keys
// @Summary      Delete API key
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "API Key ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /auth/api-keys/{id} [delete]
func (h *AuthHandler) DeleteAPIKey(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	keyID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.userService.DeleteAPIKey(c.Request.Context(), userID, keyID); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "API key deleted successfully"}))
}

// parseIDParam parses the :id path parameter as a UUID, answering 400 itself
// on failure.
func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid id: must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
