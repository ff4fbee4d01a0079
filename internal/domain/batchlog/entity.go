// Package batchlog holds the BatchLog entity: an append-only activity
// entry scoped to a single batch, mirrored live onto the batch's Event
// Bus channel.
package batchlog

import "time"

// Type distinguishes a plain log line from a structured PO/status update.
type Type string

const (
	TypeLog          Type = "log"
	TypePOUpdate     Type = "po_update"
	TypeStatusChange Type = "status_change"
)

// Level is the log severity, mirrored to subscribers for UI styling.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// BatchLog is an append-only entry in a batch's activity trail.
// Collection: batch_logs
type BatchLog struct {
	ID         string         `bson:"_id" json:"id"`
	BatchID    string         `bson:"batchId" json:"batchId"`
	Type       Type           `bson:"type" json:"type"`
	Level      Level          `bson:"level" json:"level"`
	Message    string         `bson:"message" json:"message"`
	Data       map[string]any `bson:"data,omitempty" json:"data,omitempty"`
	OccurredAt time.Time      `bson:"occurredAt" json:"occurredAt"`
}
