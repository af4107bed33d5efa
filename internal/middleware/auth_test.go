package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentex/internal/database"
	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/internal/service"
	"agentex/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testJWT = config.JWTConfig{Secret: "test-secret", AccessTTLMinutes: 30, RefreshTTLMinutes: 60}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	txm := repository.NewTransactionManager(db)
	authz := service.NewAuthzService(db, txm, service.NewNoopPermissionCache())
	authn := NewAuthenticator(db, testJWT)

	router := gin.New()
	protected := router.Group("/", authn.Authenticate())
	protected.GET("/whoami", func(c *gin.Context) {
		id, _ := CurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id.String()})
	})
	protected.GET("/guarded", RequirePermission(authz, "users:read"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, db
}

func createUser(t *testing.T, db *gorm.DB, superuser bool) model.User {
	t.Helper()
	user := model.User{
		Username:       "u-" + uuid.NewString()[:8],
		Email:          uuid.NewString()[:8] + "@example.com",
		HashedPassword: "x",
		IsActive:       true,
		IsSuperuser:    superuser,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func signToken(t *testing.T, userID uuid.UUID, tokenType string) string {
	t.Helper()
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"type": tokenType,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateBearer(t *testing.T) {
	router, db := setupRouter(t)
	user := createUser(t, db, false)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, user.ID, "access"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), user.ID.String())
}

func TestAuthenticateRejectsMissingAndMalformed(t *testing.T) {
	router, _ := setupRouter(t)

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	router, db := setupRouter(t)
	user := createUser(t, db, false)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, user.ID, "refresh"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateAPIKey(t *testing.T) {
	router, db := setupRouter(t)
	user := createUser(t, db, false)

	raw := "agx_testkey1234567890"
	key := model.APIKey{
		UserID:    user.ID,
		Name:      "ci",
		KeyHash:   service.HashAPIKey(raw),
		KeyPrefix: raw[:12],
	}
	require.NoError(t, db.Create(&key).Error)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-API-Key", raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), user.ID.String())

	var stored model.APIKey
	require.NoError(t, db.First(&stored, "id = ?", key.ID).Error)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestAuthenticateExpiredAPIKey(t *testing.T) {
	router, db := setupRouter(t)
	user := createUser(t, db, false)

	raw := "agx_expiredkey123456"
	past := time.Now().Add(-time.Hour)
	key := model.APIKey{
		UserID:    user.ID,
		Name:      "old",
		KeyHash:   service.HashAPIKey(raw),
		KeyPrefix: raw[:12],
		ExpiresAt: &past,
	}
	require.NoError(t, db.Create(&key).Error)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-API-Key", raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermissionForbidden(t *testing.T) {
	router, db := setupRouter(t)
	user := createUser(t, db, false)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, user.ID, "access"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequirePermissionSuperuserPasses(t *testing.T) {
	router, db := setupRouter(t)
	admin := createUser(t, db, true)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, admin.ID, "access"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
