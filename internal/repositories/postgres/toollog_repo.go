package postgres

import (
	"context"

	"github.com/yoockh/crisishelp/internal/models"
	"gorm.io/gorm"
)

type ToolLogRepo interface {
	Insert(ctx context.Context, l *models.ToolLog) error
	ListBySession(ctx context.Context, sessionID string) ([]models.ToolLog, error)
}

type toolLogRepo struct {
	db *gorm.DB
}

func NewToolLogRepo(db *gorm.DB) ToolLogRepo {
	return &toolLogRepo{db: db}
}

func (r *toolLogRepo) Insert(ctx context.Context, l *models.ToolLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *toolLogRepo) ListBySession(ctx context.Context, sessionID string) ([]models.ToolLog, error) {
	var rows []models.ToolLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}
