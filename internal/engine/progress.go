package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pipeline-engine/internal/model"
	"pipeline-engine/internal/source"
	"pipeline-engine/pkg/logger"
)

// DefaultChunkSize bounds a processed batch when the source config does not
// override it.
const DefaultChunkSize = 50000

// ProgressSink receives per-batch progress writes. Each call must be atomic
// with respect to concurrent readers polling the same run record.
type ProgressSink interface {
	UpdateRunProgress(runID string, rowsProcessed, processedChunks, totalRows, totalChunks int64, estimatedDone *time.Time) error
}

// ChunkTracker wraps a record stream with fixed-size batching and progress
// accounting: per-batch counters, an ETA recomputed from the observed
// per-record time of the most recent batch, and upward revision of the total
// when actual volume exceeds the pre-run estimate.
type ChunkTracker struct {
	runID     string
	chunkSize int
	sink      ProgressSink
	log       zerolog.Logger

	rows       int64
	chunks     int64
	estimate   int64 // pre-run estimate, immutable; 0 when unknown
	totalRows  int64 // display total, revised upward as volume exceeds it
	totalKnown bool
	cursor     *model.CursorValue
}

func NewChunkTracker(runID string, chunkSize int, estimatedRows int64, sink ProgressSink) *ChunkTracker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkTracker{
		runID:      runID,
		chunkSize:  chunkSize,
		sink:       sink,
		log:        logger.New("engine.progress"),
		estimate:   estimatedRows,
		totalRows:  estimatedRows,
		totalKnown: estimatedRows > 0,
	}
}

// Rows returns the rows consumed so far. Monotonically non-decreasing.
func (t *ChunkTracker) Rows() int64 { return t.rows }

// Chunks returns the batch count consumed so far.
func (t *ChunkTracker) Chunks() int64 { return t.chunks }

// MaxCursor returns the high-water cursor value observed across the whole
// stream, or nil for full loads.
func (t *ChunkTracker) MaxCursor() *model.CursorValue { return t.cursor }

// Collect drains the stream into chunk-sized batches, writing progress at
// every batch boundary. It stops at the next boundary once ctx is cancelled.
//
// The runaway guard is a heuristic safety net, not a correctness guarantee:
// once consumption has passed 110% of a known pre-run total, a batch under
// 10% of the chunk size is treated as the trailing trickle of the stream.
// Full chunks always keep flowing with the display total revised upward; an
// adapter-reported end of stream is always authoritative.
func (t *ChunkTracker) Collect(ctx context.Context, stream *source.RecordStream, initial *model.CursorValue) ([][]model.Record, error) {
	t.cursor = initial

	var batches [][]model.Record
	batch := make([]model.Record, 0, t.chunkSize)
	batchStart := time.Now()

	flush := func() int {
		n := len(batch)
		if n == 0 {
			return 0
		}
		batches = append(batches, batch)
		t.account(int64(n), time.Since(batchStart))
		batch = make([]model.Record, 0, t.chunkSize)
		batchStart = time.Now()
		return n
	}

	for rec, err := range stream.Records {
		if err != nil {
			return batches, err
		}
		if stream.CursorField != "" {
			if v, ok := rec[stream.CursorField]; ok {
				if t.cursor == nil {
					t.cursor = model.CursorFromValue(stream.CursorField, v)
				} else {
					t.cursor = t.cursor.Observe(v)
				}
			}
		}
		batch = append(batch, rec)
		if len(batch) >= t.chunkSize {
			flushed := flush()
			if err := ctx.Err(); err != nil {
				return batches, model.NewError(model.ErrCancelled, err)
			}
			if t.tricklePastEstimate(flushed) {
				t.log.Warn().Str("run_id", t.runID).Int64("rows", t.rows).Int64("estimate", t.estimate).
					Msg("runaway guard tripped, treating trailing trickle as end of stream")
				return batches, nil
			}
		}
	}

	// Tail batch.
	flush()
	if err := ctx.Err(); err != nil {
		return batches, model.NewError(model.ErrCancelled, err)
	}
	return batches, nil
}

// account advances counters, revises totals upward, and recomputes the ETA
// from the most recent batch's observed per-record time.
func (t *ChunkTracker) account(n int64, elapsed time.Duration) {
	t.rows += n
	t.chunks++

	if t.rows > t.totalRows {
		// Actual volume exceeded the pre-run estimate; revise upward.
		t.totalRows = t.rows
	}
	totalChunks := (t.totalRows + int64(t.chunkSize) - 1) / int64(t.chunkSize)
	if totalChunks < t.chunks {
		totalChunks = t.chunks
	}

	var eta *time.Time
	if t.totalKnown && n > 0 && t.totalRows > t.rows {
		perRecord := elapsed / time.Duration(n)
		remaining := time.Duration(t.totalRows-t.rows) * perRecord
		at := time.Now().Add(remaining)
		eta = &at
	}

	if t.sink != nil {
		if err := t.sink.UpdateRunProgress(t.runID, t.rows, t.chunks, t.totalRows, totalChunks, eta); err != nil {
			t.log.Warn().Err(err).Str("run_id", t.runID).Msg("progress write failed")
		}
	}
}

// tricklePastEstimate reports whether the batch just flushed looks like the
// trailing trickle of an already-overrun stream: consumption has passed 110%
// of the pre-run estimate and the batch filled less than 10% of a chunk.
func (t *ChunkTracker) tricklePastEstimate(flushed int) bool {
	if !t.totalKnown || flushed <= 0 {
		return false
	}
	return float64(t.rows) > float64(t.estimate)*1.1 && flushed < t.chunkSize/10
}
