package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepo interface {
	Save(ctx context.Context, s *models.SessionLog) error
	GetByID(ctx context.Context, sessionID string) (*models.SessionLog, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionLog, error)
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Save inserts the summary or overwrites an earlier one for the same session.
func (r *sessionRepo) Save(ctx context.Context, s *models.SessionLog) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(s).Error
}

func (r *sessionRepo) GetByID(ctx context.Context, sessionID string) (*models.SessionLog, error) {
	var row models.SessionLog
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.SessionLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
