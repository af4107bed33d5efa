package service

import (
	"context"
	"fmt"
	"time"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string `json:"name" binding:"required,max=50"`
	DisplayName string `json:"display_name" binding:"required,max=100"`
	Description string `json:"description"`
}

type UpdateRoleRequest struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Description *string `json:"description"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

// --- Interface ---

// RoleService is the role lifecycle manager. System roles are protected:
// they cannot be renamed, soft-deleted or hard-deleted. Their permission
// sets remain editable through the assignment service.
type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id uuid.UUID) (*RoleResponse, error)
	CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest) (*RoleResponse, error)
	SoftDeleteRole(ctx context.Context, id uuid.UUID) error
	HardDeleteRole(ctx context.Context, id uuid.UUID) error
	SeedDefaults(ctx context.Context) error
}

type roleService struct {
	db    *gorm.DB
	roles repository.RoleRepository
	txm   repository.TransactionManager
	authz AuthzService
}

func NewRoleService(db *gorm.DB, roles repository.RoleRepository, txm repository.TransactionManager, authz AuthzService) RoleService {
	return &roleService{db: db, roles: roles, txm: txm, authz: authz}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.roles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", apperrors.FromStore(err))
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id uuid.UUID) (*RoleResponse, error) {
	role, err := s.roles.FindByIDWithPermissions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", id, apperrors.FromStore(err))
	}
	res := toRoleResponse(*role)
	return &res, nil
}

// CreateRole inserts a new custom role. The name check covers soft-deleted
// roles too: a retired name may not be reused.
func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error) {
	var role model.Role
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		exists, err := s.roles.NameExists(txCtx, req.Name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("role name %q already exists: %w", req.Name, apperrors.ErrConflict)
		}

		role = model.Role{
			Name:        req.Name,
			DisplayName: req.DisplayName,
			Description: req.Description,
		}
		return s.roles.Create(txCtx, &role)
	})
	if err != nil {
		return nil, fmt.Errorf("create role: %w", apperrors.FromStore(err))
	}

	res := toRoleResponse(role)
	return &res, nil
}

// UpdateRole edits display name and description; renaming is allowed for
// custom roles only and keeps the uniqueness check.
func (s *roleService) UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest) (*RoleResponse, error) {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.roles.FindByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}

		if req.Name != "" && req.Name != role.Name {
			if role.IsSystem {
				return fmt.Errorf("cannot rename system role %q: %w", role.Name, apperrors.ErrForbidden)
			}
			exists, err := s.roles.NameExists(txCtx, req.Name)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("role name %q already exists: %w", req.Name, apperrors.ErrConflict)
			}
			role.Name = req.Name
		}
		if req.DisplayName != "" {
			role.DisplayName = req.DisplayName
		}
		if req.Description != nil {
			role.Description = *req.Description
		}

		return s.roles.Update(txCtx, role)
	})
	if err != nil {
		return nil, fmt.Errorf("update role: %w", apperrors.FromStore(err))
	}

	return s.GetRole(ctx, id)
}

// SoftDeleteRole flips IsDeleted. Association rows stay in place for audit
// history; resolution filters them out via the flag. Forbidden for system
// roles.
func (s *roleService) SoftDeleteRole(ctx context.Context, id uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.roles.FindByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
		if role.IsSystem {
			return fmt.Errorf("cannot delete system role %q: %w", role.Name, apperrors.ErrForbidden)
		}

		now := time.Now().UTC()
		role.IsDeleted = true
		role.DeletedAt = &now
		return s.roles.Update(txCtx, role)
	})
	if err != nil {
		return fmt.Errorf("soft delete role: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateAll(ctx)
	return nil
}

// HardDeleteRole permanently removes a non-system role and cascades its
// association rows. Works on soft-deleted roles too.
func (s *roleService) HardDeleteRole(ctx context.Context, id uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var role model.Role
		if err := db.First(&role, "id = ?", id).Error; err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
		if role.IsSystem {
			return fmt.Errorf("cannot delete system role %q: %w", role.Name, apperrors.ErrForbidden)
		}

		return s.roles.HardDelete(txCtx, id)
	})
	if err != nil {
		return fmt.Errorf("hard delete role: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateAll(ctx)
	return nil
}

// --- Seeding ---

type seedRole struct {
	displayName string
	description string
	permissions []string // nil means every permission in the catalog
}

// defaultPermissions is the bootstrap catalog, grouped by module.
var defaultPermissions = []model.Permission{
	{Module: "users", Action: "create", Description: "Create user accounts"},
	{Module: "users", Action: "read", Description: "View user accounts"},
	{Module: "users", Action: "update", Description: "Edit user accounts"},
	{Module: "users", Action: "delete", Description: "Deactivate or delete user accounts"},
	{Module: "roles", Action: "create", Description: "Create roles"},
	{Module: "roles", Action: "read", Description: "View roles and their permissions"},
	{Module: "roles", Action: "update", Description: "Edit roles and their permissions"},
	{Module: "roles", Action: "delete", Description: "Delete roles"},
	{Module: "roles", Action: "assign", Description: "Assign roles to users"},
	{Module: "models", Action: "create", Description: "Register LLM models"},
	{Module: "models", Action: "read", Description: "View LLM models"},
	{Module: "models", Action: "update", Description: "Edit LLM models"},
	{Module: "models", Action: "delete", Description: "Remove LLM models"},
	{Module: "agents", Action: "create", Description: "Create agents"},
	{Module: "agents", Action: "read", Description: "View agents"},
	{Module: "agents", Action: "update", Description: "Edit agents"},
	{Module: "agents", Action: "delete", Description: "Remove agents"},
	{Module: "agents", Action: "execute", Description: "Run agents"},
	{Module: "chat", Action: "use", Description: "Start and continue chat sessions"},
	{Module: "chat", Action: "history", Description: "View chat history"},
	{Module: "sessions", Action: "read", Description: "View sessions"},
	{Module: "sessions", Action: "delete", Description: "Delete sessions"},
	{Module: "config", Action: "read", Description: "View system configuration"},
	{Module: "config", Action: "update", Description: "Edit system configuration"},
	{Module: "resources", Action: "create", Description: "Create knowledge resources"},
	{Module: "resources", Action: "view", Description: "View knowledge resources"},
	{Module: "resources", Action: "edit", Description: "Edit knowledge resources"},
	{Module: "resources", Action: "delete", Description: "Remove knowledge resources"},
	{Module: "rules", Action: "create", Description: "Create rules"},
	{Module: "rules", Action: "view", Description: "View rules"},
	{Module: "rules", Action: "edit", Description: "Edit rules"},
	{Module: "rules", Action: "delete", Description: "Remove rules"},
	{Module: "audit", Action: "read", Description: "View the audit log"},
}

var defaultRoles = map[string]seedRole{
	model.RoleAdmin: {
		displayName: "Administrator",
		description: "Full access to every module",
		permissions: nil,
	},
	model.RoleManager: {
		displayName: "Manager",
		description: "User and configuration management",
		permissions: []string{
			"users:create", "users:read", "users:update", "users:delete",
			"roles:read", "roles:assign",
			"config:read", "config:update",
			"audit:read",
		},
	},
	model.RoleDeveloper: {
		displayName: "Developer",
		description: "Resource and rule management",
		permissions: []string{
			"resources:create", "resources:view", "resources:edit", "resources:delete",
			"rules:create", "rules:view", "rules:edit", "rules:delete",
			"models:read",
			"agents:create", "agents:read", "agents:update", "agents:delete", "agents:execute",
		},
	},
	model.RoleUser: {
		displayName: "User",
		description: "Baseline chat and agent usage",
		permissions: []string{
			"chat:use", "chat:history",
			"agents:read", "agents:execute",
			"sessions:read",
		},
	},
}

// SeedDefaults creates the default permission catalog and the four system
// roles on first initialization. Idempotent: existing rows are left alone,
// missing grants are added.
func (s *roleService) SeedDefaults(ctx context.Context) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		permByName := make(map[string]model.Permission, len(defaultPermissions))
		allNames := make([]string, 0, len(defaultPermissions))
		for _, p := range defaultPermissions {
			perm := model.Permission{
				Module:      p.Module,
				Action:      p.Action,
				Name:        model.PermissionName(p.Module, p.Action),
				Description: p.Description,
			}
			if err := db.Where("name = ?", perm.Name).FirstOrCreate(&perm).Error; err != nil {
				return fmt.Errorf("seed permission %q: %w", perm.Name, err)
			}
			permByName[perm.Name] = perm
			allNames = append(allNames, perm.Name)
		}

		for name, def := range defaultRoles {
			role := model.Role{
				Name:        name,
				DisplayName: def.displayName,
				Description: def.description,
				IsSystem:    true,
			}
			if err := db.Where("name = ?", name).FirstOrCreate(&role).Error; err != nil {
				return fmt.Errorf("seed role %q: %w", name, err)
			}

			grants := def.permissions
			if grants == nil {
				grants = allNames
			}
			for _, permName := range grants {
				perm, ok := permByName[permName]
				if !ok {
					return fmt.Errorf("seed role %q: unknown permission %q", name, permName)
				}
				var count int64
				if err := db.Model(&model.RolePermission{}).Where("role_id = ? AND permission_id = ?", role.ID, perm.ID).Count(&count).Error; err != nil {
					return err
				}
				if count == 0 {
					if err := db.Create(&model.RolePermission{RoleID: role.ID, PermissionID: perm.ID}).Error; err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed defaults: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateAll(ctx)
	return nil
}

// --- Helpers ---

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}
