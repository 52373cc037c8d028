package models

import "time"

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

type TranscriptEntry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptRecord is the persisted form of a TranscriptEntry.
type TranscriptRecord struct {
	ID        string    `gorm:"column:id;type:text;primaryKey" bson:"entry_id" json:"id"`
	SessionID string    `gorm:"column:session_id;type:text;index" bson:"session_id" json:"session_id"`
	Speaker   Speaker   `gorm:"column:speaker;type:text" bson:"speaker" json:"speaker"`
	Text      string    `gorm:"column:text;type:text" bson:"text" json:"text"`
	Timestamp time.Time `gorm:"column:timestamp;type:timestamptz;index" bson:"timestamp" json:"timestamp"`
}

func (TranscriptRecord) TableName() string { return "transcript_entries" }
