package service

import (
	"context"
	"testing"

	"agentex/internal/model"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRoleDuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "alice", true, false)
	role := mustCreateRole(t, env.db, "ops")

	require.NoError(t, env.assignments.AssignRole(ctx, user.ID, role.ID))

	err := env.assignments.AssignRole(ctx, user.ID, role.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Still exactly one association row.
	var count int64
	require.NoError(t, env.db.Model(&model.UserRole{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAssignRoleMissingSides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "bob", true, false)
	role := mustCreateRole(t, env.db, "ops")

	err := env.assignments.AssignRole(ctx, uuid.New(), role.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = env.assignments.AssignRole(ctx, user.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAssignRoleToSoftDeletedRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "carol", true, false)
	role := mustCreateRole(t, env.db, "retired")
	require.NoError(t, env.roles.SoftDeleteRole(ctx, role.ID))

	err := env.assignments.AssignRole(ctx, user.ID, role.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEnsureRoleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "dave", true, false)
	role := mustCreateRole(t, env.db, "ops")

	require.NoError(t, env.assignments.EnsureRole(ctx, user.ID, role.ID))
	require.NoError(t, env.assignments.EnsureRole(ctx, user.ID, role.ID))

	var count int64
	require.NoError(t, env.db.Model(&model.UserRole{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRevokeAbsentIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "erin", true, false)
	role := mustCreateRole(t, env.db, "ops")
	perm := mustCreatePermission(t, env.db, "users", "read")

	assert.NoError(t, env.assignments.RevokeRole(ctx, user.ID, role.ID))
	assert.NoError(t, env.assignments.RevokePermission(ctx, role.ID, perm.ID))
}

func TestGrantPermissionDuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := mustCreateRole(t, env.db, "ops")
	perm := mustCreatePermission(t, env.db, "users", "read")

	require.NoError(t, env.assignments.GrantPermission(ctx, role.ID, perm.ID))

	err := env.assignments.GrantPermission(ctx, role.ID, perm.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestReplacePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := mustCreateRole(t, env.db, "ops")
	read := mustCreatePermission(t, env.db, "users", "read")
	update := mustCreatePermission(t, env.db, "users", "update")
	del := mustCreatePermission(t, env.db, "users", "delete")
	mustGrant(t, env, role, read, update)

	require.NoError(t, env.assignments.ReplacePermissions(ctx, role.ID, []uuid.UUID{update.ID, del.ID}))

	perms, err := env.assignments.ListPermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"users:update", "users:delete"}, names)
}

func TestReplacePermissionsUnknownID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := mustCreateRole(t, env.db, "ops")
	read := mustCreatePermission(t, env.db, "users", "read")
	mustGrant(t, env, role, read)

	err := env.assignments.ReplacePermissions(ctx, role.ID, []uuid.UUID{uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The transaction rolled back: the original grant survives.
	perms, err := env.assignments.ListPermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "users:read", perms[0].Name)
}

func TestListRolesForUserOrderedAndFiltered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "frank", true, false)
	first := mustCreateRole(t, env.db, "first")
	second := mustCreateRole(t, env.db, "second")
	retired := mustCreateRole(t, env.db, "retired")

	require.NoError(t, env.assignments.AssignRole(ctx, user.ID, first.ID))
	require.NoError(t, env.assignments.AssignRole(ctx, user.ID, second.ID))
	require.NoError(t, env.assignments.AssignRole(ctx, user.ID, retired.ID))
	require.NoError(t, env.roles.SoftDeleteRole(ctx, retired.ID))

	roles, err := env.assignments.ListRolesForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "first", roles[0].Name)
	assert.Equal(t, "second", roles[1].Name)
}

func TestListRolesForUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.assignments.ListRolesForUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
