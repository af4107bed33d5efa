package service

import (
	"context"
	"encoding/json"
	"fmt"

	"agentex/internal/model"
	"agentex/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

// AuditService records and lists administrative changes to the authorization
// model. Recording is best-effort: a failed write is logged but never fails
// the operation it describes.
type AuditService interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, entityID, entityName string, details interface{})
	GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewAuditService creates a new AuditService instance
func NewAuditService(db *gorm.DB, log *logrus.Logger) AuditService {
	return &auditService{db: db, log: log}
}

// Record writes one audit row. actorID is nil for bootstrap/seeding actions;
// details is serialized to JSON when non-nil.
func (s *auditService) Record(ctx context.Context, actorID *uuid.UUID, action, entityID, entityName string, details interface{}) {
	entry := model.AuditLog{
		UserID:     actorID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			s.log.WithError(err).WithField("action", action).Warn("audit: marshal details failed")
		} else {
			entry.Details = string(raw)
		}
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.WithError(err).WithField("action", action).Warn("audit: record failed")
	}
}

// GetAuditLogs retrieves strictly paginated records with Users pre-loaded
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	var logs []model.AuditLog
	var total int64

	if err := s.db.WithContext(ctx).Model(&model.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", apperrors.FromStore(err))
	}

	offset := (page - 1) * limit
	if err := s.db.WithContext(ctx).Preload("User").Order("created_at desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", apperrors.FromStore(err))
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}
