package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentex/internal/database"
	"agentex/internal/middleware"
	"agentex/internal/repository"
	"agentex/internal/service"
	"agentex/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupAPI(t *testing.T) *gin.Engine {
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

	log := logrus.New()
	log.SetOutput(io.Discard)

	txm := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)
	jwtCfg := config.JWTConfig{Secret: "test-secret", AccessTTLMinutes: 30, RefreshTTLMinutes: 60}

	authz := service.NewAuthzService(db, txm, service.NewNoopPermissionCache())
	roles := service.NewRoleService(db, roleRepo, txm, authz)
	users := service.NewUserService(db, userRepo, txm, authz)
	auth := service.NewAuthService(db, userRepo, permRepo, txm, authz, jwtCfg)
	audit := service.NewAuditService(db, log)
	assignments := service.NewAssignmentService(db, txm, authz)

	require.NoError(t, roles.SeedDefaults(context.Background()))

	authn := middleware.NewAuthenticator(db, jwtCfg)

	router := gin.New()
	api := router.Group("/api")
	NewAuthHandler(auth, users, authn).RegisterRoutes(api)
	NewUserHandler(users, assignments, audit, authz, authn).RegisterRoutes(api)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterLoginMeRoundTrip(t *testing.T) {
	router := setupAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "alice",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var loginRes struct {
		Data service.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginRes))
	require.NotEmpty(t, loginRes.Data.AccessToken)

	w = doJSON(t, router, http.MethodGet, "/api/auth/me", loginRes.Data.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var meRes struct {
		Data service.MeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meRes))
	assert.Equal(t, "alice", meRes.Data.User.Username)
	assert.Contains(t, meRes.Data.Permissions, "chat:use")
}

func TestRegisterConflictStatus(t *testing.T) {
	router := setupAPI(t)

	payload := gin.H{"username": "bob", "email": "bob@example.com", "password": "password123"}
	w := doJSON(t, router, http.MethodPost, "/api/auth/register", "", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/auth/register", "", payload)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginBadCredentialsStatus(t *testing.T) {
	router := setupAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "nobody",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserRoutesRequirePermission(t *testing.T) {
	router := setupAPI(t)

	// A fresh registration only holds the default "user" role, which has no
	// users:read grant.
	w := doJSON(t, router, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var regRes struct {
		Data service.RegisterResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &regRes))

	w = doJSON(t, router, http.MethodGet, "/api/users", regRes.Data.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
