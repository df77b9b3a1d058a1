package model

import "time"

// EventKind classifies log events.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// LogEvent is an immutable audit record. Events are append-only; the store
// assigns the ID from an autoincrement column.
type LogEvent struct {
	ID           int64     `json:"id"`
	PipelineID   string    `json:"pipeline_id"`
	PipelineName string    `json:"pipeline_name"`
	RunID        string    `json:"run_id,omitempty"` // empty until a run exists
	Event        EventKind `json:"event"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	Duration     float64   `json:"duration,omitempty"` // seconds
	// RowCounts is an optional per-table row summary attached to terminal events.
	RowCounts map[string]int64 `json:"row_counts,omitempty"`
}
