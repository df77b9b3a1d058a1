package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pipeline-engine/internal/model"
	"pipeline-engine/internal/source"
	"pipeline-engine/pkg/logger"
)

// Notifier delivers best-effort external alerts. Failures never affect a run.
type Notifier interface {
	Notify(text string) error
}

// Normalizer is the pass-through validation hook between extract and load,
// the seam for format coercion. The default keeps batches untouched.
type Normalizer interface {
	Normalize(batch []model.Record) ([]model.Record, error)
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(batch []model.Record) ([]model.Record, error) {
	return batch, nil
}

// Orchestrator composes the adapters, the incremental manager, the chunk
// tracker, and the run state machine to execute pipeline runs end to end.
type Orchestrator struct {
	store      Store
	loader     Loader
	creds      CredentialProvider
	notifier   Notifier
	normalizer Normalizer
	resolve    func(model.SourceKind) (source.Extractor, error)
	chunkSize  int
	log        zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option tweaks an Orchestrator.
type Option func(*Orchestrator)

func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func WithNormalizer(n Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

func WithResolver(resolve func(model.SourceKind) (source.Extractor, error)) Option {
	return func(o *Orchestrator) { o.resolve = resolve }
}

func New(store Store, loader Loader, creds CredentialProvider, notifier Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		loader:     loader,
		creds:      creds,
		notifier:   notifier,
		normalizer: passthroughNormalizer{},
		resolve:    source.Resolve,
		chunkSize:  DefaultChunkSize,
		log:        logger.New("engine"),
		cancels:    map[string]context.CancelFunc{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start kicks off a run on its own goroutine and returns the new run ID. Runs
// of the same pipeline are not serialized; the caller decides whether to allow
// overlap.
func (o *Orchestrator) Start(pipelineID string) (string, error) {
	p, err := o.store.GetPipeline(pipelineID)
	if err != nil {
		return "", err
	}
	rs, err := o.prepare(p)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[rs.run.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, rs.run.ID)
			o.mu.Unlock()
		}()
		o.execute(ctx, p, rs)
	}()

	return rs.run.ID, nil
}

// RunPipeline executes one run synchronously and returns the rows loaded.
func (o *Orchestrator) RunPipeline(ctx context.Context, pipelineID string) (int64, error) {
	p, err := o.store.GetPipeline(pipelineID)
	if err != nil {
		return 0, err
	}
	rs, err := o.prepare(p)
	if err != nil {
		return 0, err
	}
	return o.execute(ctx, p, rs)
}

// Cancel signals a running run to stop at the next chunk boundary. It reports
// whether the run was still active.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// prepare creates the pending run record and writes the started audit event.
// The audit append is synchronous: a failed append aborts the start.
func (o *Orchestrator) prepare(p *model.Pipeline) (*runState, error) {
	rs, err := newRunState(p, o.store)
	if err != nil {
		return nil, err
	}
	if err := o.store.AppendLog(&model.LogEvent{
		PipelineID:   p.ID,
		PipelineName: p.Name,
		RunID:        rs.run.ID,
		Event:        model.EventStarted,
		Timestamp:    time.Now().UTC(),
		Message:      "Pipeline execution started",
	}); err != nil {
		return nil, fmt.Errorf("append started event: %w", err)
	}
	o.notifyAsync(fmt.Sprintf("Pipeline %q started (run %s)", p.Name, rs.run.ID))
	return rs, nil
}

// execute drives extract, normalize, and load for one run. Any panic below
// is converted into a failed run at this boundary; the engine never crashes
// the host process.
func (o *Orchestrator) execute(ctx context.Context, p *model.Pipeline, rs *runState) (rows int64, err error) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = model.Errorf(model.ErrData, "panic during run: %v", rec)
			o.log.Error().Str("run_id", rs.run.ID).Interface("panic", rec).Msg("run panicked")
			// The interrupted stage is the failed one; later stages keep
			// their status.
			rs.failRunningStage()
			o.finish(p, rs, 0, nil, nil, err, started)
			rows = 0
		}
	}()

	if err := rs.begin(); err != nil {
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}

	cfg := p.Source
	disposition := ResolveDisposition(cfg)

	lastCursor, err := o.store.LastCursor(p.ID)
	if err != nil {
		err = model.NewError(model.ErrConfig, err)
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}
	cursor, err := InitialCursor(cfg, lastCursor)
	if err != nil {
		err = model.NewError(model.ErrConfig, err)
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}

	extractor, err := o.resolve(cfg.Kind)
	if err != nil {
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}

	// Extract.
	if err := rs.startStage(model.StageExtract); err != nil {
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = o.chunkSize
	}

	stream, err := extractor.Extract(ctx, cfg, cursor)
	if err != nil {
		rs.failStage(model.StageExtract)
		o.finish(p, rs, 0, nil, nil, err, started)
		return 0, err
	}
	tracker := NewChunkTracker(rs.run.ID, chunkSize, stream.EstimatedRows, o.store)
	batches, err := tracker.Collect(ctx, stream, cursor)
	if err != nil {
		rs.failStage(model.StageExtract)
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}
	if err := rs.completeStage(model.StageExtract); err != nil {
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}

	// Normalize: pass-through validation stage.
	if err := rs.startStage(model.StageNormalize); err != nil {
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}
	for i, batch := range batches {
		normalized, nerr := o.normalizer.Normalize(batch)
		if nerr != nil {
			rs.failStage(model.StageNormalize)
			nerr = model.NewError(model.ErrData, nerr)
			o.finish(p, rs, tracker.Rows(), nil, nil, nerr, started)
			return 0, nerr
		}
		batches[i] = normalized
	}
	if err := rs.completeStage(model.StageNormalize); err != nil {
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}

	// Load.
	if err := rs.startStage(model.StageLoad); err != nil {
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}
	creds, err := o.creds.Resolve(ctx, p.Name)
	if err != nil {
		rs.failStage(model.StageLoad)
		err = model.NewError(model.ErrConfig, err)
		o.finish(p, rs, tracker.Rows(), nil, nil, err, started)
		return 0, err
	}
	rowCounts := map[string]int64{}
	for i, batch := range batches {
		if lerr := o.loader.Commit(ctx, batch, disposition, p.Target, creds, i == 0); lerr != nil {
			rs.failStage(model.StageLoad)
			o.finish(p, rs, tracker.Rows(), nil, rowCounts, lerr, started)
			return 0, lerr
		}
		countRowsByTable(batch, p.Target.Table, rowCounts)
	}
	if err := rs.completeStage(model.StageLoad); err != nil {
		o.finish(p, rs, tracker.Rows(), nil, rowCounts, err, started)
		return 0, err
	}

	o.finish(p, rs, tracker.Rows(), tracker.MaxCursor(), rowCounts, nil, started)
	return tracker.Rows(), nil
}

// finish seals the run, updates pipeline counters, writes the terminal audit
// event, and fires the terminal notification.
func (o *Orchestrator) finish(p *model.Pipeline, rs *runState, rows int64, maxCursor *model.CursorValue, rowCounts map[string]int64, runErr error, started time.Time) {
	duration := time.Since(started).Seconds()

	status := model.RunFailed
	errMsg := ""
	if runErr == nil && rs.completed() {
		status = model.RunCompleted
	}
	if runErr != nil {
		errMsg = runErr.Error()
		if model.IsCancelled(runErr) {
			errMsg = "cancelled: " + errMsg
		}
	}

	if err := rs.seal(status, rows, errMsg); err != nil {
		o.log.Error().Err(err).Str("run_id", rs.run.ID).Msg("seal failed")
	}
	succeeded := status == model.RunCompleted
	if err := o.store.UpdatePipelineCounters(p.ID, succeeded, time.Now().UTC()); err != nil {
		o.log.Error().Err(err).Str("pipeline_id", p.ID).Msg("counter update failed")
	}
	// The committed high-water mark becomes the next run's lower bound.
	if succeeded && maxCursor != nil {
		if err := o.store.SaveCursor(p.ID, maxCursor.Raw); err != nil {
			o.log.Error().Err(err).Str("pipeline_id", p.ID).Msg("cursor save failed")
		}
	}

	event := &model.LogEvent{
		PipelineID:   p.ID,
		PipelineName: p.Name,
		RunID:        rs.run.ID,
		Timestamp:    time.Now().UTC(),
		Duration:     duration,
		RowCounts:    rowCounts,
	}
	var text string
	switch {
	case runErr != nil:
		event.Event = model.EventError
		event.Message = fmt.Sprintf("Failed in %.2f seconds: %s", duration, errMsg)
		text = fmt.Sprintf("Pipeline %q failed (run %s): %s", p.Name, rs.run.ID, errMsg)
	case rows == 0:
		// Distinct from failure: the run completed but the source was empty.
		event.Event = model.EventCompleted
		event.Message = fmt.Sprintf("No data fetched from source; completed in %.2f seconds", duration)
		text = fmt.Sprintf("Pipeline %q completed with no data (run %s)", p.Name, rs.run.ID)
	default:
		event.Event = model.EventCompleted
		event.Message = fmt.Sprintf("Completed in %.2f seconds. Rows Loaded: %d", duration, rows)
		text = fmt.Sprintf("Pipeline %q completed: %d rows in %.2fs (run %s)", p.Name, rows, duration, rs.run.ID)
	}
	if err := o.store.AppendLog(event); err != nil {
		o.log.Error().Err(err).Str("run_id", rs.run.ID).Msg("terminal log append failed")
	}
	o.notifyAsync(text)
}

// notifyAsync fires a notification without ever blocking or failing the run.
func (o *Orchestrator) notifyAsync(text string) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.Notify(text); err != nil {
			o.log.Debug().Err(err).Msg("notification failed")
		}
	}()
}

func countRowsByTable(batch []model.Record, defaultTable string, counts map[string]int64) {
	for _, rec := range batch {
		table := defaultTable
		if t, ok := rec[source.TableField].(string); ok && t != "" {
			table = t
		}
		counts[table]++
	}
}
