package model

import "time"

// RunStatus is the overall lifecycle of one execution attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StageStatus is the lifecycle of one stage inside a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Stage names the three fixed phases of a run.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageLoad      Stage = "load"
)

// PipelineRun is one execution attempt of a pipeline. Runs are append-only
// history: once sealed they are never mutated again.
//
// Invariants: Status is completed iff all three stage statuses are completed;
// Status is failed iff any stage status is failed; RowsProcessed never
// decreases within a run.
type PipelineRun struct {
	ID           string    `json:"id"`
	PipelineID   string    `json:"pipeline_id"`
	PipelineName string    `json:"pipeline_name"`
	Status       RunStatus `json:"status"`

	ExtractStatus   StageStatus `json:"extract_status"`
	NormalizeStatus StageStatus `json:"normalize_status"`
	LoadStatus      StageStatus `json:"load_status"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  float64    `json:"duration,omitempty"` // seconds

	ExtractStart   *time.Time `json:"extract_start_time,omitempty"`
	ExtractEnd     *time.Time `json:"extract_end_time,omitempty"`
	NormalizeStart *time.Time `json:"normalize_start_time,omitempty"`
	NormalizeEnd   *time.Time `json:"normalize_end_time,omitempty"`
	LoadStart      *time.Time `json:"load_start_time,omitempty"`
	LoadEnd        *time.Time `json:"load_end_time,omitempty"`

	RowsProcessed   int64      `json:"rows_processed"`
	TotalRows       int64      `json:"total_rows,omitempty"` // estimate, revised upward
	TotalChunks     int64      `json:"total_chunks,omitempty"`
	ProcessedChunks int64      `json:"processed_chunks"`
	EstimatedDone   *time.Time `json:"estimated_completion,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// RunFilter narrows ListRuns queries.
type RunFilter struct {
	PipelineName string
	Status       RunStatus
	Since        *time.Time
	Until        *time.Time
	Limit        int
}
