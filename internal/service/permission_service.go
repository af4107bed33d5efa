package service

import (
	"context"
	"fmt"
	"time"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreatePermissionRequest struct {
	Module      string `json:"module" binding:"required,max=50"`
	Action      string `json:"action" binding:"required,max=50"`
	Description string `json:"description"`
}

type UpdatePermissionRequest struct {
	Description string `json:"description"`
}

type PermissionResponse struct {
	ID          string `json:"id"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// --- Interface ---

// PermissionService manages the permission catalog. Permission identity
// (module, action, name) is immutable after creation; only the description
// may be edited.
type PermissionService interface {
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	GetPermission(ctx context.Context, id uuid.UUID) (*PermissionResponse, error)
	CreatePermission(ctx context.Context, req CreatePermissionRequest) (*PermissionResponse, error)
	UpdateDescription(ctx context.Context, id uuid.UUID, req UpdatePermissionRequest) (*PermissionResponse, error)
	HardDeletePermission(ctx context.Context, id uuid.UUID) error
}

type permissionService struct {
	perms repository.PermissionRepository
	txm   repository.TransactionManager
	authz AuthzService
}

func NewPermissionService(perms repository.PermissionRepository, txm repository.TransactionManager, authz AuthzService) PermissionService {
	return &permissionService{perms: perms, txm: txm, authz: authz}
}

// --- Implementation ---

func (s *permissionService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.perms.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", apperrors.FromStore(err))
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, nil
}

func (s *permissionService) GetPermission(ctx context.Context, id uuid.UUID) (*PermissionResponse, error) {
	perm, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("permission %s: %w", id, apperrors.FromStore(err))
	}
	res := toPermissionResponse(*perm)
	return &res, nil
}

// CreatePermission computes name = module + ":" + action and inserts the
// row; Conflict when the name is already taken.
func (s *permissionService) CreatePermission(ctx context.Context, req CreatePermissionRequest) (*PermissionResponse, error) {
	name := model.PermissionName(req.Module, req.Action)

	var perm model.Permission
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		exists, err := s.perms.NameExists(txCtx, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("permission %q already exists: %w", name, apperrors.ErrConflict)
		}

		perm = model.Permission{
			Module:      req.Module,
			Action:      req.Action,
			Name:        name,
			Description: req.Description,
		}
		return s.perms.Create(txCtx, &perm)
	})
	if err != nil {
		return nil, fmt.Errorf("create permission: %w", apperrors.FromStore(err))
	}

	res := toPermissionResponse(perm)
	return &res, nil
}

func (s *permissionService) UpdateDescription(ctx context.Context, id uuid.UUID, req UpdatePermissionRequest) (*PermissionResponse, error) {
	var perm *model.Permission
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		perm, err = s.perms.FindByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("permission %s: %w", id, err)
		}
		perm.Description = req.Description
		return s.perms.Update(txCtx, perm)
	})
	if err != nil {
		return nil, fmt.Errorf("update permission: %w", apperrors.FromStore(err))
	}

	res := toPermissionResponse(*perm)
	return &res, nil
}

// HardDeletePermission removes a permission and cascades its RolePermission
// rows.
func (s *permissionService) HardDeletePermission(ctx context.Context, id uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.perms.FindByID(txCtx, id); err != nil {
			return fmt.Errorf("permission %s: %w", id, err)
		}
		return s.perms.HardDelete(txCtx, id)
	})
	if err != nil {
		return fmt.Errorf("delete permission: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateAll(ctx)
	return nil
}

// --- Helpers ---

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID.String(),
		Module:      p.Module,
		Action:      p.Action,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}
