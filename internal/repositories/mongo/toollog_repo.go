package mongo

import (
	"context"
	"encoding/json"

	"github.com/yoockh/crisishelp/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type ToolLogRepository interface {
	Insert(ctx context.Context, l *models.ToolLog) error
}

type toolLogRepo struct {
	col *mongo.Collection
}

func NewToolLogRepo(db *mongo.Database) ToolLogRepository {
	return &toolLogRepo{col: db.Collection("tool_logs")}
}

// Insert stores the payload as a document rather than raw bytes so it can be
// queried.
func (r *toolLogRepo) Insert(ctx context.Context, l *models.ToolLog) error {
	var payload any
	if len(l.Payload) > 0 {
		if err := json.Unmarshal(l.Payload, &payload); err != nil {
			return err
		}
	}
	_, err := r.col.InsertOne(ctx, bson.M{
		"log_id":     l.ID,
		"session_id": l.SessionID,
		"tool_name":  l.ToolName,
		"payload":    payload,
		"timestamp":  l.Timestamp.UTC(),
	})
	return err
}
