package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,max=50"`
	Email       string `json:"email" binding:"required,email,max=255"`
	Password    string `json:"password" binding:"required,min=8"`
	IsActive    *bool  `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

type UpdateUserRequest struct {
	Username  *string `json:"username" binding:"omitempty,max=50"`
	Email     *string `json:"email" binding:"omitempty,email,max=255"`
	AvatarURL *string `json:"avatar_url"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required,max=100"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	IsActive    bool    `json:"is_active"`
	IsSuperuser bool    `json:"is_superuser"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type APIKeyResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	KeyPrefix  string  `json:"key_prefix"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// CreateAPIKeyResponse carries the raw key. It is returned exactly once, at
// creation; afterwards only the hash exists.
type CreateAPIKeyResponse struct {
	Key    string         `json:"key"`
	APIKey APIKeyResponse `json:"api_key"`
}

// --- Interface ---

// UserService covers administrative account management and self-service
// operations (password change, API keys).
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	GetUser(ctx context.Context, id uuid.UUID) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetSuperuser(ctx context.Context, id uuid.UUID, superuser bool) error
	ChangePassword(ctx context.Context, id uuid.UUID, req ChangePasswordRequest) error
	SoftDeleteUser(ctx context.Context, id uuid.UUID) error

	CreateAPIKey(ctx context.Context, userID uuid.UUID, req CreateAPIKeyRequest) (*CreateAPIKeyResponse, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKeyResponse, error)
	DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
}

type userService struct {
	db    *gorm.DB
	users repository.UserRepository
	txm   repository.TransactionManager
	authz AuthzService
}

// NewUserService returns a new instance of UserService
func NewUserService(db *gorm.DB, users repository.UserRepository, txm repository.TransactionManager, authz AuthzService) UserService {
	return &userService{db: db, users: users, txm: txm, authz: authz}
}

// --- Implementation ---

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	var user model.User
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if taken, err := s.users.UsernameExists(txCtx, req.Username, uuid.Nil); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("username %q already exists: %w", req.Username, apperrors.ErrConflict)
		}
		if taken, err := s.users.EmailExists(txCtx, req.Email, uuid.Nil); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("email %q already exists: %w", req.Email, apperrors.ErrConflict)
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		user = model.User{
			Username:       req.Username,
			Email:          req.Email,
			HashedPassword: string(hashed),
			IsActive:       active,
			IsSuperuser:    req.IsSuperuser,
		}
		return s.users.Create(txCtx, &user)
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", apperrors.FromStore(err))
	}

	res := toUserResponse(user)
	return &res, nil
}

func (s *userService) GetUser(ctx context.Context, id uuid.UUID) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.FromStore(err))
	}
	res := toUserResponse(*user)
	return &res, nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.users.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", apperrors.FromStore(err))
	}

	res := make([]UserResponse, 0, len(users))
	for _, u := range users {
		res = append(res, toUserResponse(u))
	}
	return res, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error) {
	var user *model.User
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.users.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}

		if req.Username != nil && *req.Username != user.Username {
			if taken, err := s.users.UsernameExists(txCtx, *req.Username, id); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("username %q already exists: %w", *req.Username, apperrors.ErrConflict)
			}
			user.Username = *req.Username
		}
		if req.Email != nil && *req.Email != user.Email {
			if taken, err := s.users.EmailExists(txCtx, *req.Email, id); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("email %q already exists: %w", *req.Email, apperrors.ErrConflict)
			}
			user.Email = *req.Email
		}
		if req.AvatarURL != nil {
			user.AvatarURL = req.AvatarURL
		}

		return s.users.Update(txCtx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("update user: %w", apperrors.FromStore(err))
	}

	res := toUserResponse(*user)
	return &res, nil
}

// SetActive flips the active flag. Deactivation takes effect on the next
// permission resolution, so the cache entry is dropped immediately.
func (s *userService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.setFlag(ctx, id, "is_active", active); err != nil {
		return err
	}
	s.authz.InvalidateUser(ctx, id)
	return nil
}

func (s *userService) SetSuperuser(ctx context.Context, id uuid.UUID, superuser bool) error {
	if err := s.setFlag(ctx, id, "is_superuser", superuser); err != nil {
		return err
	}
	s.authz.InvalidateUser(ctx, id)
	return nil
}

func (s *userService) setFlag(ctx context.Context, id uuid.UUID, column string, value bool) error {
	return s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("user %s: %w", id, apperrors.FromStore(err))
		}
		db := repository.GetDB(txCtx, s.db)
		if err := db.Model(user).Update(column, value).Error; err != nil {
			return apperrors.FromStore(err)
		}
		return nil
	})
}

func (s *userService) ChangePassword(ctx context.Context, id uuid.UUID, req ChangePasswordRequest) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}
		if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.CurrentPassword)) != nil {
			return fmt.Errorf("current password is incorrect: %w", apperrors.ErrForbidden)
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		user.HashedPassword = string(hashed)
		return s.users.Update(txCtx, user)
	})
	if err != nil {
		return fmt.Errorf("change password: %w", apperrors.FromStore(err))
	}
	return nil
}

// SoftDeleteUser flags the account deleted and revokes its API keys. Role
// assignments stay in place for audit history; resolution returns an empty
// set for deleted users regardless.
func (s *userService) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}

		now := time.Now().UTC()
		user.IsDeleted = true
		user.DeletedAt = &now
		if err := s.users.Update(txCtx, user); err != nil {
			return err
		}

		db := repository.GetDB(txCtx, s.db)
		return db.Model(&model.APIKey{}).
			Where("user_id = ? AND is_deleted = ?", id, false).
			Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", apperrors.FromStore(err))
	}

	s.authz.InvalidateUser(ctx, id)
	return nil
}

// CreateAPIKey mints a new raw key, stores its SHA-256 hash and returns the
// raw value once.
func (s *userService) CreateAPIKey(ctx context.Context, userID uuid.UUID, req CreateAPIKeyRequest) (*CreateAPIKeyResponse, error) {
	raw, hash, prefix, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	var key model.APIKey
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.users.GetByID(txCtx, userID); err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}

		key = model.APIKey{
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   hash,
			KeyPrefix: prefix,
			ExpiresAt: req.ExpiresAt,
		}
		return repository.GetDB(txCtx, s.db).Create(&key).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", apperrors.FromStore(err))
	}

	return &CreateAPIKeyResponse{Key: raw, APIKey: toAPIKeyResponse(key)}, nil
}

func (s *userService) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKeyResponse, error) {
	var keys []model.APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("created_at asc").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", apperrors.FromStore(err))
	}

	res := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		res = append(res, toAPIKeyResponse(k))
	}
	return res, nil
}

// DeleteAPIKey revokes one of the caller's own keys. Keys of other users are
// invisible here, so a wrong owner yields NotFound rather than Forbidden.
func (s *userService) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	err := s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		db := repository.GetDB(txCtx, s.db)

		var key model.APIKey
		if err := db.First(&key, "id = ? AND user_id = ? AND is_deleted = ?", keyID, userID, false).Error; err != nil {
			return fmt.Errorf("api key %s: %w", keyID, err)
		}

		now := time.Now().UTC()
		return db.Model(&key).Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error
	})
	if err != nil {
		return fmt.Errorf("delete api key: %w", apperrors.FromStore(err))
	}
	return nil
}

// --- Helpers ---

const apiKeyPrefix = "agx_"

// generateAPIKey returns the raw key, its sha256 hash and the display prefix.
func generateAPIKey() (raw, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	raw = apiKeyPrefix + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(sum[:])
	prefix = raw[:12]
	return raw, hash, prefix, nil
}

// HashAPIKey is used by the middleware to look up a presented key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func toUserResponse(u model.User) UserResponse {
	res := UserResponse{
		ID:          u.ID.String(),
		Username:    u.Username,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   u.UpdatedAt.Format(time.RFC3339),
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.Format(time.RFC3339)
		res.LastLoginAt = &s
	}
	return res
}

func toAPIKeyResponse(k model.APIKey) APIKeyResponse {
	res := APIKeyResponse{
		ID:        k.ID.String(),
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		CreatedAt: k.CreatedAt.Format(time.RFC3339),
	}
	if k.ExpiresAt != nil {
		s := k.ExpiresAt.Format(time.RFC3339)
		res.ExpiresAt = &s
	}
	if k.LastUsedAt != nil {
		s := k.LastUsedAt.Format(time.RFC3339)
		res.LastUsedAt = &s
	}
	return res
}
