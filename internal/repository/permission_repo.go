package repository

import (
	"context"

	"agentex/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PermissionRepository defines data access for the permission catalog.
type PermissionRepository interface {
	Create(ctx context.Context, perm *model.Permission) error
	Update(ctx context.Context, perm *model.Permission) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Permission, error)
	FindByName(ctx context.Context, name string) (*model.Permission, error)
	ListAll(ctx context.Context) ([]model.Permission, error)
	NameExists(ctx context.Context, name string) (bool, error)
	HardDelete(ctx context.Context, id uuid.UUID) error
}

type permissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) Create(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).Create(perm).Error
}

func (r *permissionRepository) Update(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).Save(perm).Error
}

func (r *permissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Permission, error) {
	var perm model.Permission
	if err := GetDB(ctx, r.db).First(&perm, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *permissionRepository) FindByName(ctx context.Context, name string) (*model.Permission, error) {
	var perm model.Permission
	if err := GetDB(ctx, r.db).First(&perm, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *permissionRepository) ListAll(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	if err := GetDB(ctx, r.db).Order("module asc, action asc").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

func (r *permissionRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Permission{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *permissionRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("permission_id = ?", id).Delete(&model.RolePermission{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Permission{}).Error
}
