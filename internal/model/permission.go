package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission is a grantable capability identified by its canonical
// "module:action" name. Identity (module, action, name) is immutable after
// creation; only the description may be edited.
type Permission struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Module      string    `gorm:"type:varchar(50);not null;index" json:"module"`
	Action      string    `gorm:"type:varchar(50);not null" json:"action"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PermissionName builds the canonical "module:action" identifier.
func PermissionName(module, action string) string {
	return module + ":" + action
}
