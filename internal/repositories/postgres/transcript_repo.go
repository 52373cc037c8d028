package postgres

import (
	"context"

	"github.com/yoockh/crisishelp/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TranscriptRepo interface {
	Insert(ctx context.Context, e *models.TranscriptRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.TranscriptRecord, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

type transcriptRepo struct {
	db *gorm.DB
}

func NewTranscriptRepo(db *gorm.DB) TranscriptRepo {
	return &transcriptRepo{db: db}
}

// Insert ignores a record whose id is already stored.
func (r *transcriptRepo) Insert(ctx context.Context, e *models.TranscriptRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e).Error
}

// ListBySession returns entries oldest first.
func (r *transcriptRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []models.TranscriptRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *transcriptRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.TranscriptRecord{}).Error
}
