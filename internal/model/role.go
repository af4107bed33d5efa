package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role groups permissions for assignment to users.
type Role struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	DisplayName string     `gorm:"type:varchar(100);not null" json:"display_name"`
	Description string     `gorm:"type:text" json:"description"`
	IsSystem    bool       `gorm:"not null;default:false" json:"is_system"` // Bootstrap roles: cannot be deleted or renamed
	IsDeleted   bool       `gorm:"not null;default:false;index" json:"-"`
	DeletedAt   *time.Time `json:"-"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Names of the roles provisioned at bootstrap.
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleDeveloper = "developer"
	RoleUser      = "user"
)

// RolePermission is the explicit role↔permission association row.
type RolePermission struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RoleID       uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_role_permissions_role_permission" json:"role_id"`
	PermissionID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_role_permissions_role_permission" json:"permission_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (rp *RolePermission) BeforeCreate(tx *gorm.DB) error {
	if rp.ID == uuid.Nil {
		rp.ID = uuid.New()
	}
	return nil
}
