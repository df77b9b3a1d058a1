package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipeline-engine/internal/model"
	"pipeline-engine/internal/source"
)

// fakeStore is an in-memory Store that records every mutation in order.
type fakeStore struct {
	mu sync.Mutex

	pipeline *model.Pipeline
	runs     map[string]*model.PipelineRun
	logs     []*model.LogEvent
	cursor   string
	progress []int64 // rows_processed per progress write

	counterCalls []bool // succeeded flags, in order
	appendErr    error
}

func newFakeStore(p *model.Pipeline) *fakeStore {
	return &fakeStore{pipeline: p, runs: map[string]*model.PipelineRun{}}
}

func (f *fakeStore) GetPipeline(id string) (*model.Pipeline, error) {
	if f.pipeline == nil || f.pipeline.ID != id {
		return nil, fmt.Errorf("pipeline %s: %w", id, model.ErrNotFound)
	}
	return f.pipeline, nil
}

func (f *fakeStore) GetPipelineByName(name string) (*model.Pipeline, error) {
	if f.pipeline == nil || f.pipeline.Name != name {
		return nil, fmt.Errorf("pipeline %s: %w", name, model.ErrNotFound)
	}
	return f.pipeline, nil
}

func (f *fakeStore) CreateRun(run *model.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *run
	f.runs[run.ID] = &clone
	return nil
}

func (f *fakeStore) UpdateRunStatus(runID string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = status
	return nil
}

func (f *fakeStore) UpdateRunStage(runID string, stage model.Stage, status model.StageStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	switch stage {
	case model.StageExtract:
		run.ExtractStatus = status
	case model.StageNormalize:
		run.NormalizeStatus = status
	case model.StageLoad:
		run.LoadStatus = status
	}
	return nil
}

func (f *fakeStore) UpdateRunProgress(runID string, rowsProcessed, processedChunks, totalRows, totalChunks int64, estimatedDone *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.RowsProcessed = rowsProcessed
	run.ProcessedChunks = processedChunks
	run.TotalRows = totalRows
	run.TotalChunks = totalChunks
	f.progress = append(f.progress, rowsProcessed)
	return nil
}

func (f *fakeStore) SealRun(run *model.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *run
	f.runs[run.ID] = &clone
	return nil
}

func (f *fakeStore) UpdatePipelineCounters(pipelineID string, succeeded bool, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counterCalls = append(f.counterCalls, succeeded)
	return nil
}

func (f *fakeStore) SaveCursor(pipelineID, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = raw
	return nil
}

func (f *fakeStore) LastCursor(pipelineID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeStore) AppendLog(event *model.LogEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	event.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, event)
	return nil
}

func (f *fakeStore) singleRun(t *testing.T) *model.PipelineRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.runs, 1)
	for _, run := range f.runs {
		return run
	}
	return nil
}

// fakeLoader records committed batches; failOn fails the nth Commit (1-based).
type fakeLoader struct {
	mu           sync.Mutex
	batches      [][]model.Record
	dispositions []model.Disposition
	firstFlags   []bool
	failOn       int
}

func (l *fakeLoader) Commit(_ context.Context, batch []model.Record, disposition model.Disposition, _ model.Target, _ model.Credentials, firstBatch bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn > 0 && len(l.batches)+1 == l.failOn {
		return model.Errorf(model.ErrLoader, "simulated load failure")
	}
	l.batches = append(l.batches, batch)
	l.dispositions = append(l.dispositions, disposition)
	l.firstFlags = append(l.firstFlags, firstBatch)
	return nil
}

// fakeExtractor yields canned records, optionally followed by an error, and
// captures the cursor it was called with.
type fakeExtractor struct {
	kind      model.SourceKind
	records   []model.Record
	streamErr error
	estimate  int64
	cursorFld string

	mu         sync.Mutex
	seenCursor *model.CursorValue
	calls      int
}

func (e *fakeExtractor) Kind() model.SourceKind {
	if e.kind == "" {
		return model.SourceAPI
	}
	return e.kind
}

func (e *fakeExtractor) Extract(_ context.Context, _ model.SourceConfig, cursor *model.CursorValue) (*source.RecordStream, error) {
	e.mu.Lock()
	e.seenCursor = cursor
	e.calls++
	e.mu.Unlock()
	return &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for _, rec := range e.records {
				if cursor != nil && e.cursorFld != "" {
					if v, ok := rec[e.cursorFld]; ok && cursor.Before(v) {
						continue
					}
				}
				if !yield(rec, nil) {
					return
				}
			}
			if e.streamErr != nil {
				yield(nil, e.streamErr)
			}
		},
		CursorField:   e.cursorFld,
		EstimatedRows: e.estimate,
	}, nil
}

func resolverFor(e *fakeExtractor) func(model.SourceKind) (source.Extractor, error) {
	return func(model.SourceKind) (source.Extractor, error) { return e, nil }
}

func testPipeline(mode model.LoadMode) *model.Pipeline {
	p := &model.Pipeline{
		ID:   "p-1",
		Name: "orders",
		Source: model.SourceConfig{
			Kind:     model.SourceAPI,
			Mode:     mode,
			Location: "https://example.test/orders",
		},
		Target: model.Target{Dataset: "analytics", Table: "orders"},
	}
	if mode == model.LoadIncremental {
		p.Source.Incremental = &model.Incremental{CursorField: "updated_at"}
	}
	return p
}

func records(n int) []model.Record {
	recs := make([]model.Record, n)
	for i := range recs {
		recs[i] = model.Record{"id": i + 1}
	}
	return recs
}

func TestRunPipelineSuccess(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	loader := &fakeLoader{}
	extractor := &fakeExtractor{records: records(5)}
	orch := New(store, loader, StaticCredentials{}, nil,
		WithChunkSize(2), WithResolver(resolverFor(extractor)))

	rows, err := orch.RunPipeline(context.Background(), "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, rows)

	run := store.singleRun(t)
	require.Equal(t, model.RunCompleted, run.Status)
	require.Equal(t, model.StageCompleted, run.ExtractStatus)
	require.Equal(t, model.StageCompleted, run.NormalizeStatus)
	require.Equal(t, model.StageCompleted, run.LoadStatus)
	require.EqualValues(t, 5, run.RowsProcessed)
	require.NotNil(t, run.EndTime)

	// 5 records in chunks of 2: batches of 2, 2, 1.
	require.Len(t, loader.batches, 3)
	require.Len(t, loader.batches[2], 1)
	require.Equal(t, []bool{true, false, false}, loader.firstFlags)
	require.Equal(t, model.DispositionReplace, loader.dispositions[0])

	// Progress writes are monotone.
	for i := 1; i < len(store.progress); i++ {
		require.GreaterOrEqual(t, store.progress[i], store.progress[i-1])
	}

	require.Equal(t, []bool{true}, store.counterCalls)
	require.Len(t, store.logs, 2)
	require.Equal(t, model.EventStarted, store.logs[0].Event)
	require.Equal(t, model.EventCompleted, store.logs[1].Event)
	require.Contains(t, store.logs[1].Message, "Rows Loaded: 5")
	require.EqualValues(t, 5, store.logs[1].RowCounts["orders"])
}

func TestRunPipelineNoData(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	extractor := &fakeExtractor{}
	orch := New(store, &fakeLoader{}, StaticCredentials{}, nil,
		WithResolver(resolverFor(extractor)))

	rows, err := orch.RunPipeline(context.Background(), "p-1")
	require.NoError(t, err)
	require.Zero(t, rows)

	run := store.singleRun(t)
	require.Equal(t, model.RunCompleted, run.Status)

	terminal := store.logs[len(store.logs)-1]
	require.Equal(t, model.EventCompleted, terminal.Event)
	require.Contains(t, terminal.Message, "No data fetched")
}

func TestRunPipelineExtractError(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	loader := &fakeLoader{}
	extractor := &fakeExtractor{
		records:   records(3),
		streamErr: model.Errorf(model.ErrConnectivity, "source unreachable"),
	}
	orch := New(store, loader, StaticCredentials{}, nil,
		WithResolver(resolverFor(extractor)))

	_, err := orch.RunPipeline(context.Background(), "p-1")
	require.Error(t, err)
	require.Equal(t, model.ErrConnectivity, model.KindOf(err))

	run := store.singleRun(t)
	require.Equal(t, model.RunFailed, run.Status)
	require.Equal(t, model.StageFailed, run.ExtractStatus)
	require.Equal(t, model.StagePending, run.NormalizeStatus)
	require.Equal(t, model.StagePending, run.LoadStatus)
	require.Contains(t, run.ErrorMessage, "source unreachable")

	require.Empty(t, loader.batches)
	require.Equal(t, []bool{false}, store.counterCalls)
	require.Equal(t, model.EventError, store.logs[len(store.logs)-1].Event)
}

func TestRunPipelineLoaderError(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	loader := &fakeLoader{failOn: 2}
	extractor := &fakeExtractor{records: records(4)}
	orch := New(store, loader, StaticCredentials{}, nil,
		WithChunkSize(2), WithResolver(resolverFor(extractor)))

	_, err := orch.RunPipeline(context.Background(), "p-1")
	require.Error(t, err)
	require.Equal(t, model.ErrLoader, model.KindOf(err))

	run := store.singleRun(t)
	require.Equal(t, model.RunFailed, run.Status)
	require.Equal(t, model.StageCompleted, run.ExtractStatus)
	require.Equal(t, model.StageCompleted, run.NormalizeStatus)
	require.Equal(t, model.StageFailed, run.LoadStatus)
	require.Len(t, loader.batches, 1)
}

func TestRunPipelineIncrementalCursor(t *testing.T) {
	p := testPipeline(model.LoadIncremental)
	p.Source.Incremental.PrimaryKey = []string{"id"}
	store := newFakeStore(p)
	loader := &fakeLoader{}
	extractor := &fakeExtractor{
		cursorFld: "updated_at",
		records: []model.Record{
			{"id": 1, "updated_at": "2026-01-01T00:00:00Z"},
			{"id": 2, "updated_at": "2026-01-03T00:00:00Z"},
			{"id": 3, "updated_at": "2026-01-02T00:00:00Z"},
		},
	}
	orch := New(store, loader, StaticCredentials{}, nil,
		WithResolver(resolverFor(extractor)))

	rows, err := orch.RunPipeline(context.Background(), "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, rows)
	require.Equal(t, model.DispositionMerge, loader.dispositions[0])

	// High-water mark is the max observed value, not the last one.
	saved, err := ParseCursor("updated_at", store.cursor)
	require.NoError(t, err)
	require.NotNil(t, saved.Time)
	require.Equal(t, "2026-01-03", saved.Time.Format("2006-01-02"))

	// The next run is bounded by the committed mark and skips everything
	// at or below it.
	rows, err = orch.RunPipeline(context.Background(), "p-1")
	require.NoError(t, err)
	require.Zero(t, rows)
	require.NotNil(t, extractor.seenCursor)
	require.Equal(t, store.cursor, extractor.seenCursor.Raw)
}

func TestRunPipelineCancellation(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	loader := &fakeLoader{}

	ctx, cancel := context.WithCancel(context.Background())
	yielded := 0
	resolve := func(model.SourceKind) (source.Extractor, error) {
		return extractorFunc(func(context.Context, model.SourceConfig, *model.CursorValue) (*source.RecordStream, error) {
			return &source.RecordStream{Records: func(yield func(model.Record, error) bool) {
				for i := 0; i < 10; i++ {
					if !yield(model.Record{"id": i}, nil) {
						return
					}
					yielded++
					if yielded == 4 {
						cancel()
					}
				}
			}}, nil
		}), nil
	}

	orch := New(store, loader, StaticCredentials{}, nil,
		WithChunkSize(2), WithResolver(resolve))

	_, err := orch.RunPipeline(ctx, "p-1")
	require.Error(t, err)
	require.True(t, model.IsCancelled(err))

	run := store.singleRun(t)
	require.Equal(t, model.RunFailed, run.Status)
	require.True(t, strings.HasPrefix(run.ErrorMessage, "cancelled:"), run.ErrorMessage)
	require.Empty(t, loader.batches)
	require.Equal(t, []bool{false}, store.counterCalls)
}

type extractorFunc func(context.Context, model.SourceConfig, *model.CursorValue) (*source.RecordStream, error)

func (extractorFunc) Kind() model.SourceKind { return model.SourceAPI }
func (f extractorFunc) Extract(ctx context.Context, cfg model.SourceConfig, c *model.CursorValue) (*source.RecordStream, error) {
	return f(ctx, cfg, c)
}

type panickyNormalizer struct{}

func (panickyNormalizer) Normalize([]model.Record) ([]model.Record, error) {
	panic("normalize exploded")
}

func TestRunPipelinePanicBecomesFailedRun(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	extractor := &fakeExtractor{records: records(2)}
	orch := New(store, &fakeLoader{}, StaticCredentials{}, nil,
		WithResolver(resolverFor(extractor)), WithNormalizer(panickyNormalizer{}))

	_, err := orch.RunPipeline(context.Background(), "p-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")

	run := store.singleRun(t)
	require.Equal(t, model.RunFailed, run.Status)
	require.Contains(t, run.ErrorMessage, "normalize exploded")
	// The interrupted stage is failed, not left running forever; the load
	// stage keeps its untouched status.
	require.Equal(t, model.StageCompleted, run.ExtractStatus)
	require.Equal(t, model.StageFailed, run.NormalizeStatus)
	require.Equal(t, model.StagePending, run.LoadStatus)
}

func TestRunPipelineUnknownPipeline(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	orch := New(store, &fakeLoader{}, StaticCredentials{}, nil)

	_, err := orch.RunPipeline(context.Background(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Empty(t, store.runs)
}

func TestStartRunsAsynchronously(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	extractor := &fakeExtractor{records: records(3)}
	orch := New(store, &fakeLoader{}, StaticCredentials{}, nil,
		WithResolver(resolverFor(extractor)))

	runID, err := orch.Start("p-1")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		run, ok := store.runs[runID]
		return ok && run.Status == model.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// The cancel registry entry is gone once the run is terminal.
	require.Eventually(t, func() bool { return !orch.Cancel(runID) },
		time.Second, 10*time.Millisecond)
}

func TestPrepareFailsWhenAuditAppendFails(t *testing.T) {
	store := newFakeStore(testPipeline(model.LoadFull))
	store.appendErr = errors.New("disk full")
	orch := New(store, &fakeLoader{}, StaticCredentials{}, nil)

	_, err := orch.Start("p-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}
