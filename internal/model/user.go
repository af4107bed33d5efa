package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an authenticated principal. Soft-deleted users keep their
// rows (and association rows) for audit history; permission resolution
// filters on IsDeleted and IsActive.
type User struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username       string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email          string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	HashedPassword string     `gorm:"type:varchar(255);not null" json:"-"` // Omit password hash from JSON responses
	AvatarURL      *string    `gorm:"type:varchar(500)" json:"avatar_url"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	IsSuperuser    bool       `gorm:"not null;default:false" json:"is_superuser"`
	IsDeleted      bool       `gorm:"not null;default:false;index" json:"-"`
	DeletedAt      *time.Time `json:"-"`
	LastLoginAt    *time.Time `json:"last_login_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Roles   []Role   `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	APIKeys []APIKey `gorm:"foreignKey:UserID" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// UserRole is the explicit user↔role association row. Rows survive
// soft-deletion of either parent so history stays auditable; resolution
// filters on the parents' IsDeleted flags instead.
type UserRole struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_user_roles_user_role" json:"user_id"`
	RoleID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_user_roles_user_role" json:"role_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ur *UserRole) BeforeCreate(tx *gorm.DB) error {
	if ur.ID == uuid.Nil {
		ur.ID = uuid.New()
	}
	return nil
}
