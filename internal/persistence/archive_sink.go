package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/storage"
)

// Archive collects a session's transcript and tool logs and uploads them,
// together with the summary, as one JSON object when the summary arrives.
type Archive struct {
	up  storage.Uploader
	log *logrus.Logger

	mu      sync.Mutex
	pending map[string]*archiveDoc
}

type archiveDoc struct {
	Session    *models.SessionLog        `json:"session"`
	Transcript []models.TranscriptRecord `json:"transcript"`
	Tools      []archiveTool             `json:"tools"`
}

type archiveTool struct {
	ID        string          `json:"id"`
	ToolName  models.ToolName `json:"tool_name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func NewArchive(up storage.Uploader, l *logrus.Logger) *Archive {
	if l == nil {
		l = logrus.New()
	}
	return &Archive{up: up, log: l, pending: map[string]*archiveDoc{}}
}

func (a *Archive) doc(sessionID string) *archiveDoc {
	d, ok := a.pending[sessionID]
	if !ok {
		d = &archiveDoc{}
		a.pending[sessionID] = d
	}
	return d
}

func (a *Archive) AddTranscriptEntry(_ context.Context, e *models.TranscriptRecord) error {
	a.mu.Lock()
	d := a.doc(e.SessionID)
	d.Transcript = append(d.Transcript, *e)
	a.mu.Unlock()
	return nil
}

func (a *Archive) LogToolCall(_ context.Context, l *models.ToolLog) error {
	a.mu.Lock()
	d := a.doc(l.SessionID)
	d.Tools = append(d.Tools, archiveTool{
		ID:        l.ID,
		ToolName:  l.ToolName,
		Payload:   json.RawMessage(l.Payload),
		Timestamp: l.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	a.mu.Unlock()
	return nil
}

// SaveSession uploads sessions/<yyyy-mm-dd>/<id>.json.
func (a *Archive) SaveSession(ctx context.Context, s *models.SessionLog) error {
	a.mu.Lock()
	d := a.doc(s.SessionID)
	delete(a.pending, s.SessionID)
	a.mu.Unlock()

	cp := *s
	d.Session = &cp
	if d.Transcript == nil {
		d.Transcript = []models.TranscriptRecord{}
	}
	if d.Tools == nil {
		d.Tools = []archiveTool{}
	}

	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("sessions/%s/%s.json", s.StartTime.UTC().Format("2006-01-02"), s.SessionID)
	path, err := a.up.Upload(ctx, name, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("archive session %s: %w", s.SessionID, err)
	}
	a.log.WithFields(logrus.Fields{"session_id": s.SessionID, "path": path}).Info("session archived")
	return nil
}
