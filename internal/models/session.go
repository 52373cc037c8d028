package models

import (
	"time"

	"github.com/lib/pq"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusEnded        Status = "ended"
	StatusError        Status = "error"
	StatusReconnecting Status = "reconnecting"
)

type ConnectionQuality string

const (
	QualityGood     ConnectionQuality = "good"
	QualityDegraded ConnectionQuality = "degraded"
	QualityPoor     ConnectionQuality = "poor"
)

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
)

// ParseDeviceType falls back to desktop for anything unrecognized.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceMobile, DeviceTablet:
		return DeviceType(s)
	default:
		return DeviceDesktop
	}
}

type EmergencyContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// SessionLog is the session-summary record written once per ended session.
type SessionLog struct {
	SessionID string `gorm:"column:id;type:text;primaryKey" bson:"session_id" json:"session_id"`
	UserID    string `gorm:"column:user_id;type:text;index" bson:"user_id,omitempty" json:"user_id,omitempty"`

	StartTime       time.Time  `gorm:"column:start_time;type:timestamptz" bson:"start_time" json:"start_time"`
	EndTime         *time.Time `gorm:"column:end_time;type:timestamptz" bson:"end_time,omitempty" json:"end_time,omitempty"`
	DurationSeconds int64      `gorm:"column:duration_seconds" bson:"duration_seconds" json:"duration_seconds"`

	IncognitoMode        bool              `gorm:"column:incognito_mode" bson:"incognito_mode" json:"incognito_mode"`
	ConnectionQuality    ConnectionQuality `gorm:"column:connection_quality;type:text" bson:"connection_quality" json:"connection_quality"`
	DeviceType           DeviceType        `gorm:"column:device_type;type:text" bson:"device_type" json:"device_type"`
	ReconnectionAttempts int               `gorm:"column:reconnection_attempts" bson:"reconnection_attempts" json:"reconnection_attempts"`
	ToolsTriggered       pq.StringArray    `gorm:"column:tools_triggered;type:text[]" bson:"tools_triggered" json:"tools_triggered"`
	EmergencyAlerts      int               `gorm:"column:emergency_alerts" bson:"emergency_alerts" json:"emergency_alerts"`

	TotalUserWords    int `gorm:"column:total_user_words" bson:"total_user_words" json:"total_user_words"`
	TotalAIWords      int `gorm:"column:total_ai_words" bson:"total_ai_words" json:"total_ai_words"`
	TranscriptEntries int `gorm:"column:transcript_entries" bson:"transcript_entries" json:"transcript_entries"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;autoCreateTime" bson:"created_at" json:"created_at"`
}

func (SessionLog) TableName() string { return "sessions" }
