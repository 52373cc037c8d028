package persistence

import (
	"context"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/repositories/postgres"
)

// Postgres writes records through the gorm repositories.
type Postgres struct {
	Sessions   postgres.SessionRepo
	Transcript postgres.TranscriptRepo
	ToolLogs   postgres.ToolLogRepo
}

func (p *Postgres) SaveSession(ctx context.Context, s *models.SessionLog) error {
	return p.Sessions.Save(ctx, s)
}

func (p *Postgres) AddTranscriptEntry(ctx context.Context, e *models.TranscriptRecord) error {
	return p.Transcript.Insert(ctx, e)
}

func (p *Postgres) LogToolCall(ctx context.Context, l *models.ToolLog) error {
	return p.ToolLogs.Insert(ctx, l)
}
