// Package source holds the per-kind extraction adapters and the registry the
// orchestrator resolves them from. Adapters produce lazy record streams; the
// engine never sees pagination, drivers, or wire protocols.
package source

import (
	"context"
	"iter"
	"sync"

	"pipeline-engine/internal/model"
)

// RecordStream is a lazy, potentially unbounded sequence of records. The
// iterator yields a record or a terminal error; after an error no further
// records follow.
type RecordStream struct {
	Records iter.Seq2[model.Record, error]
	// CursorField is the flattened top-level field carrying the incremental
	// watermark, empty for full loads.
	CursorField string
	// EstimatedRows is the adapter's pre-run volume estimate, 0 when unknown.
	EstimatedRows int64
}

// Extractor is implemented once per source kind.
type Extractor interface {
	Kind() model.SourceKind
	// Extract opens the stream. cursor is nil on full loads and first
	// incremental runs with no initial value.
	Extract(ctx context.Context, cfg model.SourceConfig, cursor *model.CursorValue) (*RecordStream, error)
}

// TableField is the synthetic field the schema adapter stamps on every record
// so the engine can attribute rows to tables in logs and summaries.
const TableField = "_table"

// ExtractedAtField carries the extraction timestamp the API adapter stamps on
// each record.
const ExtractedAtField = "extracted_at"

var (
	mu       sync.RWMutex
	registry = map[model.SourceKind]Extractor{}
)

// Register installs an extractor for its kind. Later registrations replace
// earlier ones, which tests rely on.
func Register(e Extractor) {
	mu.Lock()
	defer mu.Unlock()
	registry[e.Kind()] = e
}

// Resolve returns the extractor for kind, or a config error for kinds outside
// the closed set.
func Resolve(kind model.SourceKind) (Extractor, error) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[kind]
	if !ok {
		return nil, model.Errorf(model.ErrConfig, "no extractor registered for source kind %q", kind)
	}
	return e, nil
}

// RegisterDefaults installs the built-in adapters. Called from the mains; kept
// out of init so tests can build registries of fakes.
func RegisterDefaults() {
	Register(NewAPIExtractor())
	Register(&SQLTableExtractor{})
	Register(&SQLDatabaseExtractor{})
	Register(&ObjectStoreExtractor{})
}
