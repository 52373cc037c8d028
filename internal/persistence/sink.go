// Package persistence delivers session, transcript and tool-log records to
// whatever backend is configured. Delivery is best effort.
package persistence

import (
	"context"
	"errors"

	"github.com/yoockh/crisishelp/internal/models"
)

type Sink interface {
	SaveSession(ctx context.Context, s *models.SessionLog) error
	AddTranscriptEntry(ctx context.Context, e *models.TranscriptRecord) error
	LogToolCall(ctx context.Context, l *models.ToolLog) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SaveSession(context.Context, *models.SessionLog) error              { return nil }
func (Nop) AddTranscriptEntry(context.Context, *models.TranscriptRecord) error { return nil }
func (Nop) LogToolCall(context.Context, *models.ToolLog) error                 { return nil }

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) SaveSession(ctx context.Context, s *models.SessionLog) error {
	var errs []error
	for _, sk := range m {
		if err := sk.SaveSession(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) AddTranscriptEntry(ctx context.Context, e *models.TranscriptRecord) error {
	var errs []error
	for _, sk := range m {
		if err := sk.AddTranscriptEntry(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) LogToolCall(ctx context.Context, l *models.ToolLog) error {
	var errs []error
	for _, sk := range m {
		if err := sk.LogToolCall(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
