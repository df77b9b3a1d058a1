package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pipeline-engine/internal/model"
)

// Store is the persistence surface the engine needs. The sqlite implementation
// lives in internal/store; tests substitute in-memory fakes.
type Store interface {
	GetPipeline(id string) (*model.Pipeline, error)
	GetPipelineByName(name string) (*model.Pipeline, error)

	CreateRun(run *model.PipelineRun) error
	UpdateRunStatus(runID string, status model.RunStatus) error
	UpdateRunStage(runID string, stage model.Stage, status model.StageStatus, at time.Time) error
	UpdateRunProgress(runID string, rowsProcessed, processedChunks, totalRows, totalChunks int64, estimatedDone *time.Time) error
	SealRun(run *model.PipelineRun) error

	UpdatePipelineCounters(pipelineID string, succeeded bool, at time.Time) error
	SaveCursor(pipelineID, raw string) error
	LastCursor(pipelineID string) (string, error)

	// AppendLog is the synchronous audit trail; callers must not proceed past
	// a failed append.
	AppendLog(event *model.LogEvent) error
}

// runState drives a single run's lifecycle. Transitions are strictly forward;
// a failed run is terminal and retry means a brand-new run.
type runState struct {
	run   *model.PipelineRun
	store Store
}

// newRunState creates the pending run record.
func newRunState(p *model.Pipeline, store Store) (*runState, error) {
	run := &model.PipelineRun{
		ID:              uuid.New().String(),
		PipelineID:      p.ID,
		PipelineName:    p.Name,
		Status:          model.RunPending,
		ExtractStatus:   model.StagePending,
		NormalizeStatus: model.StagePending,
		LoadStatus:      model.StagePending,
		StartTime:       time.Now().UTC(),
	}
	if err := store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &runState{run: run, store: store}, nil
}

func (r *runState) begin() error {
	r.run.Status = model.RunRunning
	return r.store.UpdateRunStatus(r.run.ID, model.RunRunning)
}

func (r *runState) startStage(stage model.Stage) error {
	now := time.Now().UTC()
	r.setStage(stage, model.StageRunning, &now, nil)
	return r.store.UpdateRunStage(r.run.ID, stage, model.StageRunning, now)
}

func (r *runState) completeStage(stage model.Stage) error {
	now := time.Now().UTC()
	r.setStage(stage, model.StageCompleted, nil, &now)
	return r.store.UpdateRunStage(r.run.ID, stage, model.StageCompleted, now)
}

// failStage marks the stage failed. Remaining stages keep whatever status
// they held; only the overall run flips to failed when sealed.
func (r *runState) failStage(stage model.Stage) {
	now := time.Now().UTC()
	r.setStage(stage, model.StageFailed, nil, &now)
	// Best effort: the seal below persists the authoritative terminal state.
	_ = r.store.UpdateRunStage(r.run.ID, stage, model.StageFailed, now)
}

// failRunningStage fails whichever stage is currently running, for failure
// paths that do not know which stage they interrupted. At most one stage is
// ever running.
func (r *runState) failRunningStage() {
	switch model.StageRunning {
	case r.run.ExtractStatus:
		r.failStage(model.StageExtract)
	case r.run.NormalizeStatus:
		r.failStage(model.StageNormalize)
	case r.run.LoadStatus:
		r.failStage(model.StageLoad)
	}
}

func (r *runState) setStage(stage model.Stage, status model.StageStatus, start, end *time.Time) {
	switch stage {
	case model.StageExtract:
		r.run.ExtractStatus = status
		if start != nil {
			r.run.ExtractStart = start
		}
		if end != nil {
			r.run.ExtractEnd = end
		}
	case model.StageNormalize:
		r.run.NormalizeStatus = status
		if start != nil {
			r.run.NormalizeStart = start
		}
		if end != nil {
			r.run.NormalizeEnd = end
		}
	case model.StageLoad:
		r.run.LoadStatus = status
		if start != nil {
			r.run.LoadStart = start
		}
		if end != nil {
			r.run.LoadEnd = end
		}
	}
}

// seal finalizes the run: end time, duration, terminal status, error message.
// Sealed runs are never mutated again.
func (r *runState) seal(status model.RunStatus, rowsProcessed int64, errMsg string) error {
	now := time.Now().UTC()
	r.run.Status = status
	r.run.EndTime = &now
	r.run.Duration = now.Sub(r.run.StartTime).Seconds()
	r.run.RowsProcessed = rowsProcessed
	r.run.ErrorMessage = errMsg
	return r.store.SealRun(r.run)
}

// completed reports whether every stage finished, which is the only way the
// overall run may be marked completed.
func (r *runState) completed() bool {
	return r.run.ExtractStatus == model.StageCompleted &&
		r.run.NormalizeStatus == model.StageCompleted &&
		r.run.LoadStatus == model.StageCompleted
}
