package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentex/internal/model"
	"agentex/internal/repository"
	"agentex/pkg/apperrors"
	"agentex/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// --- DTOs ---

type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=50"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type RegisterResponse struct {
	User   UserResponse  `json:"user"`
	Tokens TokenResponse `json:"tokens"`
}

type MeResponse struct {
	User        UserResponse `json:"user"`
	Permissions []string     `json:"permissions"`
}

// --- Interface ---

// AuthService handles registration, credential verification and token
// issuance. Authorization decisions stay in AuthzService.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*MeResponse, error)
}

type authService struct {
	db    *gorm.DB
	users repository.UserRepository
	perms repository.PermissionRepository
	txm   repository.TransactionManager
	authz AuthzService
	cfg   config.JWTConfig
}

func NewAuthService(db *gorm.DB, users repository.UserRepository, perms repository.PermissionRepository, txm repository.TransactionManager, authz AuthzService, cfg config.JWTConfig) AuthService {
	return &authService{db: db, users: users, perms: perms, txm: txm, authz: authz, cfg: cfg}
}

// --- Implementation ---

// Register creates an account and assigns the default "user" role when the
// role exists (it is seeded at bootstrap, but registration must not depend
// on it).
func (s *authService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
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

		user = model.User{
			Username:       req.Username,
			Email:          req.Email,
			HashedPassword: string(hashed),
			IsActive:       true,
		}
		if err := s.users.Create(txCtx, &user); err != nil {
			return err
		}

		db := repository.GetDB(txCtx, s.db)
		var defaultRole model.Role
		err = db.First(&defaultRole, "name = ? AND is_deleted = ?", model.RoleUser, false).Error
		if err == nil {
			return db.Create(&model.UserRole{UserID: user.ID, RoleID: defaultRole.ID}).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", apperrors.FromStore(err))
	}

	tokens, err := s.generateTokens(user.ID)
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{User: toUserResponse(user), Tokens: *tokens}, nil
}

// Login verifies credentials and stamps last_login_at. Unknown usernames and
// wrong passwords produce the same Unauthorized error; a disabled account is
// Forbidden.
func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("invalid username or password: %w", apperrors.ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		return nil, fmt.Errorf("invalid username or password: %w", apperrors.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", apperrors.ErrForbidden)
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("stamp last login: %w", apperrors.FromStore(err))
	}

	return s.generateTokens(user.ID)
}

// Refresh exchanges a valid refresh token for a fresh token pair, re-checking
// the user's state.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", apperrors.ErrUnauthorized)
	}
	if claims["type"] != "refresh" {
		return nil, fmt.Errorf("invalid token type: %w", apperrors.ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", apperrors.ErrUnauthorized)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user no longer exists: %w", apperrors.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", apperrors.ErrForbidden)
	}

	return s.generateTokens(user.ID)
}

// Me returns the profile plus the resolved permission names. For superusers
// the wildcard is materialized against the current catalog, for display
// only — authorization checks never materialize it.
func (s *authService) Me(ctx context.Context, userID uuid.UUID) (*MeResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.FromStore(err))
	}

	set, err := s.authz.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	names := set.Names()
	if set.IsWildcard() {
		perms, err := s.perms.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("list permissions: %w", apperrors.FromStore(err))
		}
		names = make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, p.Name)
		}
	}

	return &MeResponse{User: toUserResponse(*user), Permissions: names}, nil
}

// --- Helpers ---

func (s *authService) generateTokens(userID uuid.UUID) (*TokenResponse, error) {
	accessTTL := time.Duration(s.cfg.AccessTTLMinutes) * time.Minute
	refreshTTL := time.Duration(s.cfg.RefreshTTLMinutes) * time.Minute

	access, err := s.signToken(userID, "access", accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(userID, "refresh", refreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
	}, nil
}

func (s *authService) signToken(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"type": tokenType,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *authService) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("parse token: %w", apperrors.ErrUnauthorized)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type: %w", apperrors.ErrUnauthorized)
	}
	return claims, nil
}
