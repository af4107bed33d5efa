package service

import (
	"context"
	"testing"

	"agentex/internal/model"
	"agentex/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoleDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.roles.CreateRole(ctx, CreateRoleRequest{Name: "ops", DisplayName: "Ops"})
	require.NoError(t, err)

	_, err = env.roles.CreateRole(ctx, CreateRoleRequest{Name: "ops", DisplayName: "Ops Again"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreateRoleNameReservedAfterSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.roles.CreateRole(ctx, CreateRoleRequest{Name: "temp", DisplayName: "Temp"})
	require.NoError(t, err)

	id := mustParseID(t, role.ID)
	require.NoError(t, env.roles.SoftDeleteRole(ctx, id))

	// A retired name stays reserved.
	_, err = env.roles.CreateRole(ctx, CreateRoleRequest{Name: "temp", DisplayName: "Temp 2"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUpdateRoleRenameSystemForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := model.Role{Name: "admin", DisplayName: "Administrator", IsSystem: true}
	require.NoError(t, env.db.Create(&role).Error)

	_, err := env.roles.UpdateRole(ctx, role.ID, UpdateRoleRequest{Name: "superadmin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// Display name and description stay editable on system roles.
	desc := "Full access"
	updated, err := env.roles.UpdateRole(ctx, role.ID, UpdateRoleRequest{DisplayName: "Admin", Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Admin", updated.DisplayName)
	assert.Equal(t, "Full access", updated.Description)
}

func TestDeleteSystemRoleForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := model.Role{Name: "admin", DisplayName: "Administrator", IsSystem: true}
	require.NoError(t, env.db.Create(&role).Error)

	assert.ErrorIs(t, env.roles.SoftDeleteRole(ctx, role.ID), apperrors.ErrForbidden)
	assert.ErrorIs(t, env.roles.HardDeleteRole(ctx, role.ID), apperrors.ErrForbidden)
}

func TestHardDeleteRoleCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustCreateUser(t, env.db, "alice", true, false)
	role := mustCreateRole(t, env.db, "ops")
	perm := mustCreatePermission(t, env.db, "users", "read")
	mustGrant(t, env, role, perm)
	require.NoError(t, env.assignments.AssignRole(ctx, user.ID, role.ID))

	require.NoError(t, env.roles.HardDeleteRole(ctx, role.ID))

	var rpCount, urCount int64
	require.NoError(t, env.db.Model(&model.RolePermission{}).Where("role_id = ?", role.ID).Count(&rpCount).Error)
	require.NoError(t, env.db.Model(&model.UserRole{}).Where("role_id = ?", role.ID).Count(&urCount).Error)
	assert.EqualValues(t, 0, rpCount)
	assert.EqualValues(t, 0, urCount)

	// The permission itself is untouched.
	var permCount int64
	require.NoError(t, env.db.Model(&model.Permission{}).Count(&permCount).Error)
	assert.EqualValues(t, 1, permCount)
}

func TestSoftDeletedRoleHiddenFromReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := mustCreateRole(t, env.db, "temp")
	require.NoError(t, env.roles.SoftDeleteRole(ctx, role.ID))

	_, err := env.roles.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	roles, err := env.roles.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)

	// Hard delete still reaches the soft-deleted row.
	require.NoError(t, env.roles.HardDeleteRole(ctx, role.ID))
}

func TestSeedDefaultsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.roles.SeedDefaults(ctx))

	var permCount, roleCount, grantCount int64
	require.NoError(t, env.db.Model(&model.Permission{}).Count(&permCount).Error)
	require.NoError(t, env.db.Model(&model.Role{}).Count(&roleCount).Error)
	require.NoError(t, env.db.Model(&model.RolePermission{}).Count(&grantCount).Error)
	assert.EqualValues(t, 4, roleCount)
	assert.Greater(t, permCount, int64(0))

	// A second run creates nothing new.
	require.NoError(t, env.roles.SeedDefaults(ctx))

	var permCount2, roleCount2, grantCount2 int64
	require.NoError(t, env.db.Model(&model.Permission{}).Count(&permCount2).Error)
	require.NoError(t, env.db.Model(&model.Role{}).Count(&roleCount2).Error)
	require.NoError(t, env.db.Model(&model.RolePermission{}).Count(&grantCount2).Error)
	assert.Equal(t, permCount, permCount2)
	assert.Equal(t, roleCount, roleCount2)
	assert.Equal(t, grantCount, grantCount2)
}

func TestSeedDefaultsAdminHoldsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.roles.SeedDefaults(ctx))

	var admin model.Role
	require.NoError(t, env.db.First(&admin, "name = ?", model.RoleAdmin).Error)
	assert.True(t, admin.IsSystem)

	perms, err := env.assignments.ListPermissionsForRole(ctx, admin.ID)
	require.NoError(t, err)

	var total int64
	require.NoError(t, env.db.Model(&model.Permission{}).Count(&total).Error)
	assert.EqualValues(t, total, len(perms))
}
