// Package transcript keeps the ordered record of what was said in a session.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/crisishelp/internal/models"
)

// Log is append-only. Entries keep arrival order and timestamps never go
// backwards, even if the clock does.
type Log struct {
	mu      sync.RWMutex
	entries []models.TranscriptEntry
	now     func() time.Time
}

func New() *Log {
	return &Log{now: time.Now}
}

// NewWithClock is New with an injected time source.
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

func (l *Log) Append(speaker models.Speaker, text string) models.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if n := len(l.entries); n > 0 && ts.Before(l.entries[n-1].Timestamp) {
		ts = l.entries[n-1].Timestamp
	}
	e := models.TranscriptEntry{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: ts,
	}
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) AddUser(text string) models.TranscriptEntry { return l.Append(models.SpeakerUser, text) }
func (l *Log) AddAI(text string) models.TranscriptEntry   { return l.Append(models.SpeakerAI, text) }

// Entries returns a copy in append order.
func (l *Log) Entries() []models.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Latest returns the most recent entry by speaker, if any.
func (l *Log) Latest(speaker models.Speaker) (models.TranscriptEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Speaker == speaker {
			return l.entries[i], true
		}
	}
	return models.TranscriptEntry{}, false
}

// WordCounts returns whitespace-separated word totals per speaker.
func (l *Log) WordCounts() (user, ai int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		n := len(strings.Fields(e.Text))
		switch e.Speaker {
		case models.SpeakerUser:
			user += n
		case models.SpeakerAI:
			ai += n
		}
	}
	return user, ai
}

// Reset drops every entry. Only a full session reset or a new session calls it.
func (l *Log) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
