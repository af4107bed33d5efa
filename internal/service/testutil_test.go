package service

import (
	"context"
	"io"
	"testing"
	"time"

	"agentex/internal/database"
	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testEnv wires the full service stack against an in-memory store and a
// miniredis-backed permission cache.
type testEnv struct {
	db          *gorm.DB
	redis       *miniredis.Miniredis
	txm         repository.TransactionManager
	authz       AuthzService
	assignments AssignmentService
	roles       RoleService
	perms       PermissionService
	users       UserService
	auth        AuthService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisPermissionCache(client, time.Minute, quietLogger())

	txm := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)

	authz := NewAuthzService(db, txm, cache)
	jwtCfg := config.JWTConfig{Secret: "test-secret", AccessTTLMinutes: 30, RefreshTTLMinutes: 60}

	return &testEnv{
		db:          db,
		redis:       mr,
		txm:         txm,
		authz:       authz,
		assignments: NewAssignmentService(db, txm, authz),
		roles:       NewRoleService(db, roleRepo, txm, authz),
		perms:       NewPermissionService(permRepo, txm, authz),
		users:       NewUserService(db, userRepo, txm, authz),
		auth:        NewAuthService(db, userRepo, permRepo, txm, authz, jwtCfg),
	}
}

// --- fixtures ---

func mustCreateUser(t *testing.T, db *gorm.DB, username string, active, superuser bool) model.User {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	user := model.User{
		Username:       username,
		Email:          username + "@example.com",
		HashedPassword: string(hashed),
		IsActive:       active,
		IsSuperuser:    superuser,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func mustCreateRole(t *testing.T, db *gorm.DB, name string) model.Role {
	t.Helper()

	role := model.Role{Name: name, DisplayName: name}
	require.NoError(t, db.Create(&role).Error)
	return role
}

func mustCreatePermission(t *testing.T, db *gorm.DB, module, action string) model.Permission {
	t.Helper()

	perm := model.Permission{
		Module: module,
		Action: action,
		Name:   model.PermissionName(module, action),
	}
	require.NoError(t, db.Create(&perm).Error)
	return perm
}

func mustParseID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func mustGrant(t *testing.T, env *testEnv, role model.Role, perms ...model.Permission) {
	t.Helper()
	for _, p := range perms {
		require.NoError(t, env.assignments.GrantPermission(context.Background(), role.ID, p.ID))
	}
}
