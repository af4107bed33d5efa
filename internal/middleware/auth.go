package middleware

import (
	"net/http"
	"strings"
	"time"

	"agentex/internal/model"
	"agentex/internal/service"
	"agentex/pkg/config"
	"agentex/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const ctxUserID = "userID"

// Authenticator resolves the caller's identity from either a Bearer access
// token or an X-API-Key header.
type Authenticator struct {
	db  *gorm.DB
	cfg config.JWTConfig
}

func NewAuthenticator(db *gorm.DB, cfg config.JWTConfig) *Authenticator {
	return &Authenticator{db: db, cfg: cfg}
}

// Authenticate establishes identity and aborts with 401 when neither
// credential is valid. Downstream handlers read the user ID via CurrentUserID.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			a.authenticateAPIKey(c, apiKey)
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(a.cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}
		if claims["type"] != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Token is not an access token"))
			return
		}
		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token subject"))
			return
		}

		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func (a *Authenticator) authenticateAPIKey(c *gin.Context, rawKey string) {
	hash := service.HashAPIKey(rawKey)

	var key model.APIKey
	err := a.db.WithContext(c.Request.Context()).
		First(&key, "key_hash = ? AND is_deleted = ?", hash, false).Error
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid API key"))
		return
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "API key expired"))
		return
	}

	var user model.User
	err = a.db.WithContext(c.Request.Context()).
		First(&user, "id = ? AND is_deleted = ?", key.UserID, false).Error
	if err != nil || !user.IsActive {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid API key"))
		return
	}

	// Best effort, an untouched last_used_at is not worth failing the request
	now := time.Now().UTC()
	_ = a.db.WithContext(c.Request.Context()).Model(&key).Update("last_used_at", now).Error

	c.Set(ctxUserID, user.ID)
	c.Next()
}

// RequirePermission checks the resolved permission set for a single
// "module:action" name. It must run after Authenticate.
func RequirePermission(authz service.AuthzService, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
			return
		}

		if err := authz.RequireAccess(c.Request.Context(), userID, permission); err != nil {
			status, body := response.FromError(err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user's ID from the gin context.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
