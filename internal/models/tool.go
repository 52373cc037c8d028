package models

import (
	"time"

	"gorm.io/datatypes"
)

type ToolName string

const (
	ToolAlertEmergencyServices ToolName = "alertEmergencyServices"
	ToolProvideLocalResource   ToolName = "provide_local_resource"
	ToolGetLocation            ToolName = "get_location"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type ResourceType string

const (
	ResourceMentalHealth  ResourceType = "mental_health"
	ResourcePoisonControl ResourceType = "poison_control"
)

type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

type EmergencyResource struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Description string `json:"description"`
}

type AlertResult struct {
	Success           bool      `json:"success"`
	Location          *Location `json:"location,omitempty"`
	Called            bool      `json:"called"`
	SharedWithContact bool      `json:"sharedWithContact"`
}

// ToolInvocation is one tool call as seen by the dispatcher.
type ToolInvocation struct {
	ToolName  ToolName       `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	Result    any            `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolLog is the persisted form of a ToolInvocation.
type ToolLog struct {
	ID        string         `gorm:"column:id;type:text;primaryKey" bson:"log_id" json:"id"`
	SessionID string         `gorm:"column:session_id;type:text;index" bson:"session_id" json:"session_id"`
	ToolName  ToolName       `gorm:"column:tool_name;type:text" bson:"tool_name" json:"tool_name"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" bson:"payload" json:"payload"`
	Timestamp time.Time      `gorm:"column:timestamp;type:timestamptz;index" bson:"timestamp" json:"timestamp"`
}

func (ToolLog) TableName() string { return "tool_logs" }
