package service

import (
	"context"
	"fmt"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthzService is the permission resolution engine and authorization guard.
// Resolve computes the complete permission set a user holds; CanAccess and
// RequireAccess answer "may this user perform module:action".
type AuthzService interface {
	Resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, error)
	CanAccess(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
	RequireAccess(ctx context.Context, userID uuid.UUID, permission string) error
	InvalidateUser(ctx context.Context, userID uuid.UUID)
	InvalidateAll(ctx context.Context)
}

type authzService struct {
	db    *gorm.DB
	txm   repository.TransactionManager
	cache PermissionCache
}

// NewAuthzService builds the guard. Pass NewNoopPermissionCache() when no
// cache backend is configured.
func NewAuthzService(db *gorm.DB, txm repository.TransactionManager, cache PermissionCache) AuthzService {
	return &authzService{db: db, txm: txm, cache: cache}
}

// Resolve returns the effective permission set for a user:
//   - NotFound if no such user exists
//   - the empty set if the user is soft-deleted or inactive (a disabled
//     account outranks the superuser flag)
//   - the wildcard set for active superusers
//   - otherwise the union of permission names granted through the user's
//     non-deleted roles
//
// All reads happen inside one transaction so the result reflects a single
// point-in-time snapshot of the store.
func (s *authzService) Resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, error) {
	if set, ok := s.cache.Get(ctx, userID); ok {
		return set, nil
	}

	var set PermissionSet
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var user model.User
		if err := db.First(&user, "id = ?", userID).Error; err != nil {
			return err
		}

		if user.IsDeleted || !user.IsActive {
			set = NewPermissionSet()
			return nil
		}
		if user.IsSuperuser {
			set = WildcardPermissionSet()
			return nil
		}

		var names []string
		err := db.Raw(`
			SELECT DISTINCT p.name
			FROM permissions p
			INNER JOIN role_permissions rp ON rp.permission_id = p.id
			INNER JOIN roles r ON r.id = rp.role_id
			INNER JOIN user_roles ur ON ur.role_id = r.id
			WHERE ur.user_id = ? AND r.is_deleted = ?
		`, userID, false).Scan(&names).Error
		if err != nil {
			return err
		}
		set = NewPermissionSet(names...)
		return nil
	})
	if err != nil {
		return PermissionSet{}, fmt.Errorf("resolve permissions for user %s: %w", userID, apperrors.FromStore(err))
	}

	s.cache.Set(ctx, userID, set)
	return set, nil
}

// CanAccess reports whether the user holds the given permission.
func (s *authzService) CanAccess(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	set, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

// RequireAccess fails with Forbidden when the permission is not granted.
func (s *authzService) RequireAccess(ctx context.Context, userID uuid.UUID, permission string) error {
	ok, err := s.CanAccess(ctx, userID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing permission %q: %w", permission, apperrors.ErrForbidden)
	}
	return nil
}

// InvalidateUser drops the cached permission set for one user. Called after
// mutations scoped to a single user (role assignment, account state change).
func (s *authzService) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	s.cache.InvalidateUser(ctx, userID)
}

// InvalidateAll drops every cached set. Called after mutations whose blast
// radius spans users (role permission grants, role deletion, catalog edits).
func (s *authzService) InvalidateAll(ctx context.Context) {
	s.cache.InvalidateAll(ctx)
}
