// Package prefs holds the small set of client flags that outlive a session.
package prefs

import (
	"context"

	"github.com/yoockh/crisishelp/internal/cache"
	"github.com/yoockh/crisishelp/internal/models"
)

const (
	KeyUserID            = "smart_crisis_user_id"
	KeyAutoCallEmergency = "auto_call_emergency"
	KeyIncognito         = "incognito_mode"
	KeyLastSessionID     = "last_session_id"
	KeyEmergencyContact  = "emergency_contact"
)

var allKeys = []string{
	KeyUserID,
	KeyAutoCallEmergency,
	KeyIncognito,
	KeyLastSessionID,
	KeyEmergencyContact,
}

// Store reads and writes persisted client state. Values never expire.
type Store struct {
	c cache.Cache
}

func New(c cache.Cache) *Store {
	return &Store{c: c}
}

// Snapshot is every persisted value at once.
type Snapshot struct {
	UserID            string                   `json:"user_id,omitempty"`
	AutoCallEmergency bool                     `json:"auto_call_emergency"`
	Incognito         bool                     `json:"incognito_mode"`
	LastSessionID     string                   `json:"last_session_id,omitempty"`
	EmergencyContact  *models.EmergencyContact `json:"emergency_contact,omitempty"`
}

func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	if _, err := s.c.GetJSON(ctx, KeyUserID, &out.UserID); err != nil {
		return out, err
	}
	// unset means no consent yet
	if _, err := s.c.GetJSON(ctx, KeyAutoCallEmergency, &out.AutoCallEmergency); err != nil {
		return out, err
	}
	if _, err := s.c.GetJSON(ctx, KeyIncognito, &out.Incognito); err != nil {
		return out, err
	}
	if _, err := s.c.GetJSON(ctx, KeyLastSessionID, &out.LastSessionID); err != nil {
		return out, err
	}
	var contact models.EmergencyContact
	hit, err := s.c.GetJSON(ctx, KeyEmergencyContact, &contact)
	if err != nil {
		return out, err
	}
	if hit && contact.Phone != "" {
		out.EmergencyContact = &contact
	}
	return out, nil
}

func (s *Store) SetUserID(ctx context.Context, id string) error {
	return s.c.SetJSON(ctx, KeyUserID, id, cache.Persistent)
}

func (s *Store) SetAutoCallEmergency(ctx context.Context, v bool) error {
	return s.c.SetJSON(ctx, KeyAutoCallEmergency, v, cache.Persistent)
}

func (s *Store) SetIncognito(ctx context.Context, v bool) error {
	return s.c.SetJSON(ctx, KeyIncognito, v, cache.Persistent)
}

func (s *Store) SetLastSessionID(ctx context.Context, id string) error {
	return s.c.SetJSON(ctx, KeyLastSessionID, id, cache.Persistent)
}

// SetEmergencyContact stores c, or removes the contact when c is nil.
func (s *Store) SetEmergencyContact(ctx context.Context, c *models.EmergencyContact) error {
	if c == nil {
		return s.c.Del(ctx, KeyEmergencyContact)
	}
	return s.c.SetJSON(ctx, KeyEmergencyContact, c, cache.Persistent)
}

// Clear removes every persisted key, user id included.
func (s *Store) Clear(ctx context.Context) error {
	return s.c.Del(ctx, allKeys...)
}
