package persistence

import (
	"context"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/repositories/mongo"
)

type Mongo struct {
	Sessions   mongo.SessionRepository
	Transcript mongo.TranscriptRepository
	ToolLogs   mongo.ToolLogRepository
}

func (m *Mongo) SaveSession(ctx context.Context, s *models.SessionLog) error {
	return m.Sessions.Save(ctx, s)
}

func (m *Mongo) AddTranscriptEntry(ctx context.Context, e *models.TranscriptRecord) error {
	return m.Transcript.Insert(ctx, e)
}

func (m *Mongo) LogToolCall(ctx context.Context, l *models.ToolLog) error {
	return m.ToolLogs.Insert(ctx, l)
}
