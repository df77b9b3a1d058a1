package model

import "time"

// Record is a schema-agnostic row pulled from any source.
type Record map[string]interface{}

// ScheduleKind says how a pipeline is triggered. The engine stores and
// validates the schedule but never acts on it; triggering is the caller's job.
type ScheduleKind string

const (
	ScheduleManual   ScheduleKind = "manual"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule describes when a pipeline should run.
type Schedule struct {
	Kind ScheduleKind `json:"kind" validate:"omitempty,oneof=manual interval cron"`
	// Every is the interval in minutes when Kind is "interval".
	Every int `json:"every,omitempty" validate:"omitempty,min=1"`
	// Expr is the cron expression when Kind is "cron".
	Expr string `json:"expr,omitempty"`
}

// Target names the warehouse-side destination for a pipeline.
type Target struct {
	Dataset string `json:"dataset" validate:"required"`
	Table   string `json:"table" validate:"required"`
}

// Pipeline is a named, durable job definition. Counters are mutated only by
// the orchestrator when a run is sealed.
type Pipeline struct {
	ID        string       `json:"id"`
	Name      string       `json:"name" validate:"required"`
	Source    SourceConfig `json:"source" validate:"required"`
	Target    Target       `json:"target" validate:"required"`
	Schedule  Schedule     `json:"schedule"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	TotalRuns         int        `json:"total_runs"`
	SuccessfulRuns    int        `json:"successful_runs"`
	FailedRuns        int        `json:"failed_runs"`
	LastRunStatus     string     `json:"last_run_status,omitempty"`
	LastSuccessfulRun *time.Time `json:"last_successful_run,omitempty"`
	LastFailedRun     *time.Time `json:"last_failed_run,omitempty"`
}

// Credentials are opaque key/value pairs resolved per run and handed to the
// loader. They are never written into the process environment.
type Credentials map[string]string
