package service

import (
	"context"
	"strings"
	"testing"

	"agentex/internal/model"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.CreateUser(ctx, CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	_, err = env.users.CreateUser(ctx, CreateUserRequest{
		Username: "alice",
		Email:    "alice2@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = env.users.CreateUser(ctx, CreateUserRequest{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUpdateUserUniquenessExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "bob", true, false)
	mustCreateUser(t, env.db, "carol", true, false)

	// Re-submitting one's own username is not a conflict.
	same := "bob"
	_, err := env.users.UpdateUser(ctx, user.ID, UpdateUserRequest{Username: &same})
	require.NoError(t, err)

	taken := "carol"
	_, err = env.users.UpdateUser(ctx, user.ID, UpdateUserRequest{Username: &taken})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestListUsersPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"u1", "u2", "u3"} {
		mustCreateUser(t, env.db, name, true, false)
	}
	deleted := mustCreateUser(t, env.db, "u4", true, false)
	require.NoError(t, env.users.SoftDeleteUser(ctx, deleted.ID))

	page1, total, err := env.users.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "u1", page1[0].Username)

	page2, _, err := env.users.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "u3", page2[0].Username)
}

func TestSoftDeleteUserHidesAndRevokesKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "dave", true, false)
	_, err := env.users.CreateAPIKey(ctx, user.ID, CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)

	require.NoError(t, env.users.SoftDeleteUser(ctx, user.ID))

	_, err = env.users.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var keys []model.APIKey
	require.NoError(t, env.db.Where("user_id = ?", user.ID).Find(&keys).Error)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].IsDeleted)
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "erin", true, false)

	err := env.users.ChangePassword(ctx, user.ID, ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "newpassword1",
	})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	err = env.users.ChangePassword(ctx, user.ID, ChangePasswordRequest{
		CurrentPassword: "password123",
		NewPassword:     "newpassword1",
	})
	require.NoError(t, err)

	_, err = env.auth.Login(ctx, LoginRequest{Username: "erin", Password: "newpassword1"})
	assert.NoError(t, err)
}

func TestSetSuperuserTakesEffect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "frank", true, false)

	set, err := env.authz.Resolve(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, set.IsWildcard())

	require.NoError(t, env.users.SetSuperuser(ctx, user.ID, true))

	set, err = env.authz.Resolve(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, set.IsWildcard())
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "grace", true, false)

	created, err := env.users.CreateAPIKey(ctx, user.ID, CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, "agx_"))
	assert.Equal(t, created.Key[:12], created.APIKey.KeyPrefix)

	// Only the hash is stored.
	var stored model.APIKey
	require.NoError(t, env.db.First(&stored, "user_id = ?", user.ID).Error)
	assert.NotEqual(t, created.Key, stored.KeyHash)
	assert.Equal(t, HashAPIKey(created.Key), stored.KeyHash)

	keys, err := env.users.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, env.users.DeleteAPIKey(ctx, user.ID, mustParseID(t, keys[0].ID)))

	keys, err = env.users.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteAPIKeyOfAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := mustCreateUser(t, env.db, "owner", true, false)
	other := mustCreateUser(t, env.db, "other", true, false)

	created, err := env.users.CreateAPIKey(ctx, owner.ID, CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)

	err = env.users.DeleteAPIKey(ctx, other.ID, mustParseID(t, created.APIKey.ID))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetUserUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.GetUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
