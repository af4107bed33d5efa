package service

import (
	"context"
	"errors"
	"fmt"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssignmentService maintains the user↔role and role↔permission
// associations. Every mutation runs its existence and uniqueness checks in
// the same transaction as the insert, backed by composite unique indexes in
// the store, so a racing duplicate still surfaces as Conflict rather than a
// second row.
//
// Permission sets of system roles are editable here; only deleting or
// renaming system roles is forbidden (see role service).
type AssignmentService interface {
	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	EnsureRole(ctx context.Context, userID, roleID uuid.UUID) error
	RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error
	GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	ReplacePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	ListRolesForUser(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
	ListPermissionsForRole(ctx context.Context, roleID uuid.UUID) ([]model.Permission, error)
}

type assignmentService struct {
	db    *gorm.DB
	txm   repository.TransactionManager
	authz AuthzService
}

func NewAssignmentService(db *gorm.DB, txm repository.TransactionManager, authz AuthzService) AssignmentService {
	return &assignmentService{db: db, txm: txm, authz: authz}
}

// AssignRole links a role to a user. NotFound when either side is absent or
// soft-deleted; Conflict when the pair already exists.
func (s *assignmentService) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var user model.User
		if err := db.First(&user, "id = ? AND is_deleted = ?", userID, false).Error; err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		var role model.Role
		if err := db.First(&role, "id = ? AND is_deleted = ?", roleID, false).Error; err != nil {
			return fmt.Errorf("role %s: %w", roleID, err)
		}

		var count int64
		if err := db.Model(&model.UserRole{}).Where("user_id = ? AND role_id = ?", userID, roleID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("user %s already has role %q: %w", userID, role.Name, apperrors.ErrConflict)
		}

		return db.Create(&model.UserRole{UserID: userID, RoleID: roleID}).Error
	})
	if err != nil {
		return fmt.Errorf("assign role: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateUser(ctx, userID)
	return nil
}

// EnsureRole is the idempotent variant of AssignRole: an existing pair is
// treated as success.
func (s *assignmentService) EnsureRole(ctx context.Context, userID, roleID uuid.UUID) error {
	err := s.AssignRole(ctx, userID, roleID)
	if errors.Is(err, apperrors.ErrConflict) {
		return nil
	}
	return err
}

// RevokeRole removes the association if present; revoking an absent pair is
// a no-op, not an error.
func (s *assignmentService) RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND role_id = ?", userID, roleID).Delete(&model.UserRole{}).Error
	if err != nil {
		return fmt.Errorf("revoke role: %w", apperrors.FromStore(err))
	}
	s.authz.InvalidateUser(ctx, userID)
	return nil
}

// GrantPermission links a permission to a role. NotFound when the role is
// absent/soft-deleted or the permission is absent; Conflict on a duplicate
// pair.
func (s *assignmentService) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var role model.Role
		if err := db.First(&role, "id = ? AND is_deleted = ?", roleID, false).Error; err != nil {
			return fmt.Errorf("role %s: %w", roleID, err)
		}
		var perm model.Permission
		if err := db.First(&perm, "id = ?", permissionID).Error; err != nil {
			return fmt.Errorf("permission %s: %w", permissionID, err)
		}

		var count int64
		if err := db.Model(&model.RolePermission{}).Where("role_id = ? AND permission_id = ?", roleID, permissionID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("role %q already has permission %q: %w", role.Name, perm.Name, apperrors.ErrConflict)
		}

		return db.Create(&model.RolePermission{RoleID: roleID, PermissionID: permissionID}).Error
	})
	if err != nil {
		return fmt.Errorf("grant permission: %w", apperrors.FromStore(err))
	}

	// A role's permissions affect every user holding the role.
	s.authz.InvalidateAll(ctx)
	return nil
}

// RevokePermission removes the association if present; absent pairs are a
// no-op.
func (s *assignmentService) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	err := s.db.WithContext(ctx).Where("role_id = ? AND permission_id = ?", roleID, permissionID).Delete(&model.RolePermission{}).Error
	if err != nil {
		return fmt.Errorf("revoke permission: %w", apperrors.FromStore(err))
	}
	s.authz.InvalidateAll(ctx)
	return nil
}

// ReplacePermissions swaps a role's permission set for exactly the given
// IDs, adding missing pairs and removing surplus ones in one transaction.
func (s *assignmentService) ReplacePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var role model.Role
		if err := db.First(&role, "id = ? AND is_deleted = ?", roleID, false).Error; err != nil {
			return fmt.Errorf("role %s: %w", roleID, err)
		}

		var existing []model.RolePermission
		if err := db.Where("role_id = ?", roleID).Find(&existing).Error; err != nil {
			return err
		}
		current := make(map[uuid.UUID]struct{}, len(existing))
		for _, rp := range existing {
			current[rp.PermissionID] = struct{}{}
		}

		keep := make(map[uuid.UUID]struct{}, len(permissionIDs))
		for _, pid := range permissionIDs {
			keep[pid] = struct{}{}
			if _, ok := current[pid]; ok {
				continue
			}
			var perm model.Permission
			if err := db.First(&perm, "id = ?", pid).Error; err != nil {
				return fmt.Errorf("permission %s: %w", pid, err)
			}
			if err := db.Create(&model.RolePermission{RoleID: roleID, PermissionID: pid}).Error; err != nil {
				return err
			}
		}
		for pid := range current {
			if _, ok := keep[pid]; ok {
				continue
			}
			if err := db.Where("role_id = ? AND permission_id = ?", roleID, pid).Delete(&model.RolePermission{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace permissions: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateAll(ctx)
	return nil
}

// ListRolesForUser returns the user's non-deleted roles ordered by when they
// were assigned.
func (s *assignmentService) ListRolesForUser(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ? AND is_deleted = ?", userID, false).Error; err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.FromStore(err))
	}

	var roles []model.Role
	err := s.db.WithContext(ctx).Raw(`
		SELECT r.* FROM roles r
		INNER JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ? AND r.is_deleted = ?
		ORDER BY ur.created_at ASC
	`, userID, false).Scan(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", apperrors.FromStore(err))
	}
	return roles, nil
}

// ListPermissionsForRole returns the role's permissions ordered by when they
// were granted.
func (s *assignmentService) ListPermissionsForRole(ctx context.Context, roleID uuid.UUID) ([]model.Permission, error) {
	var role model.Role
	if err := s.db.WithContext(ctx).First(&role, "id = ? AND is_deleted = ?", roleID, false).Error; err != nil {
		return nil, fmt.Errorf("role %s: %w", roleID, apperrors.FromStore(err))
	}

	var perms []model.Permission
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.* FROM permissions p
		INNER JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ?
		ORDER BY rp.created_at ASC
	`, roleID).Scan(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", apperrors.FromStore(err))
	}
	return perms, nil
}
