package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKey is a long-lived credential alternative to JWT access tokens. Only
// the SHA-256 hash of the raw key is stored; the prefix is kept so users can
// recognise their keys in listings.
type APIKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Name       string     `gorm:"type:varchar(100);not null" json:"name"`
	KeyHash    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	KeyPrefix  string     `gorm:"type:varchar(12);not null" json:"key_prefix"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IsDeleted  bool       `gorm:"not null;default:false;index" json:"-"`
	DeletedAt  *time.Time `json:"-"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}
