package mongo

import (
	"context"
	"time"

	"github.com/yoockh/crisishelp/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TranscriptRepository interface {
	Insert(ctx context.Context, e *models.TranscriptRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptRecord, error)
}

type transcriptRepo struct {
	col *mongo.Collection
}

func NewTranscriptRepo(db *mongo.Database) TranscriptRepository {
	return &transcriptRepo{col: db.Collection("transcript_entries")}
}

// Insert treats a duplicate entry id as already stored.
func (r *transcriptRepo) Insert(ctx context.Context, e *models.TranscriptRecord) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *transcriptRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.TranscriptRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
