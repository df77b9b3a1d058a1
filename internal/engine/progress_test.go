package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipeline-engine/internal/model"
	"pipeline-engine/internal/source"
)

type progressWrite struct {
	rows, chunks, totalRows, totalChunks int64
	eta                                  *time.Time
}

type recordingSink struct {
	writes []progressWrite
}

func (s *recordingSink) UpdateRunProgress(_ string, rows, chunks, totalRows, totalChunks int64, eta *time.Time) error {
	s.writes = append(s.writes, progressWrite{rows, chunks, totalRows, totalChunks, eta})
	return nil
}

func streamOf(recs []model.Record, cursorField string, estimate int64) *source.RecordStream {
	return &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for _, rec := range recs {
				if !yield(rec, nil) {
					return
				}
			}
		},
		CursorField:   cursorField,
		EstimatedRows: estimate,
	}
}

func TestCollectChunkMath(t *testing.T) {
	const total = 250000
	rec := model.Record{"id": 1}
	stream := &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for i := 0; i < total; i++ {
				if !yield(rec, nil) {
					return
				}
			}
		},
		EstimatedRows: total,
	}

	sink := &recordingSink{}
	tracker := NewChunkTracker("r-1", DefaultChunkSize, total, sink)
	batches, err := tracker.Collect(context.Background(), stream, nil)
	require.NoError(t, err)

	require.Len(t, batches, 5)
	require.EqualValues(t, total, tracker.Rows())
	require.EqualValues(t, 5, tracker.Chunks())

	require.Len(t, sink.writes, 5)
	for i, w := range sink.writes {
		require.EqualValues(t, (int64(i)+1)*DefaultChunkSize, w.rows)
		require.EqualValues(t, 5, w.totalChunks)
		if i > 0 {
			require.GreaterOrEqual(t, w.rows, sink.writes[i-1].rows)
		}
	}
	// ETA present while there is work left, absent at the end.
	require.NotNil(t, sink.writes[0].eta)
	require.Nil(t, sink.writes[4].eta)
}

func TestCollectTailBatch(t *testing.T) {
	sink := &recordingSink{}
	tracker := NewChunkTracker("r-1", 2, 0, sink)
	batches, err := tracker.Collect(context.Background(), streamOf(records(5), "", 0), nil)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 2)
	require.Len(t, batches[2], 1)
	require.EqualValues(t, 5, tracker.Rows())
}

func TestCollectRevisesTotalUpward(t *testing.T) {
	// Estimate says 3 but the stream holds 5; the display total follows the
	// actual volume instead of going negative on "remaining".
	sink := &recordingSink{}
	tracker := NewChunkTracker("r-1", 2, 3, sink)
	_, err := tracker.Collect(context.Background(), streamOf(records(5), "", 3), nil)
	require.NoError(t, err)

	last := sink.writes[len(sink.writes)-1]
	require.EqualValues(t, 5, last.rows)
	require.EqualValues(t, 5, last.totalRows)
	require.GreaterOrEqual(t, last.totalChunks, last.chunks)
}

func TestCollectKeepsFullChunksPastEstimate(t *testing.T) {
	// Estimate 4 but the stream holds 10: full chunks past 110% of the
	// estimate are real data and must keep flowing, with the display total
	// following the actual volume.
	sink := &recordingSink{}
	tracker := NewChunkTracker("r-1", 2, 4, sink)
	batches, err := tracker.Collect(context.Background(), streamOf(records(10), "", 4), nil)
	require.NoError(t, err)

	require.Len(t, batches, 5)
	require.EqualValues(t, 10, tracker.Rows())
	last := sink.writes[len(sink.writes)-1]
	require.EqualValues(t, 10, last.totalRows)
}

func TestCollectRunawayGuardTripsOnlyOnShortBatch(t *testing.T) {
	// Past 110% of the estimate a batch filling under 10% of a chunk is
	// treated as the trailing trickle and ends the stream.
	const chunk = 100
	stream := &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for i := 0; i < 3*chunk; i++ {
				if !yield(model.Record{"id": i}, nil) {
					return
				}
			}
		},
		EstimatedRows: chunk,
	}
	tracker := NewChunkTracker("r-1", chunk, chunk, &recordingSink{})
	batches, err := tracker.Collect(context.Background(), stream, nil)
	require.NoError(t, err)

	// Full chunks never trip the guard; the stream runs to its real end.
	require.Len(t, batches, 3)
	require.EqualValues(t, 3*chunk, tracker.Rows())

	require.False(t, tracker.tricklePastEstimate(chunk))
	require.True(t, tracker.tricklePastEstimate(chunk/10-1))
}

func TestCollectCancelsAtChunkBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	yielded := 0
	stream := &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for i := 0; i < 10; i++ {
				if !yield(model.Record{"id": i}, nil) {
					return
				}
				yielded++
				if yielded == 3 {
					cancel()
				}
			}
		},
	}

	tracker := NewChunkTracker("r-1", 2, 0, &recordingSink{})
	batches, err := tracker.Collect(ctx, stream, nil)
	require.Error(t, err)
	require.True(t, model.IsCancelled(err))
	// The in-flight chunk finishes before the cancellation is honored.
	require.Len(t, batches, 2)
	require.EqualValues(t, 4, tracker.Rows())
}

func TestCollectSurfacesStreamError(t *testing.T) {
	stream := &source.RecordStream{
		Records: func(yield func(model.Record, error) bool) {
			for i := 0; i < 3; i++ {
				if !yield(model.Record{"id": i}, nil) {
					return
				}
			}
			yield(nil, model.Errorf(model.ErrData, "bad row"))
		},
	}
	tracker := NewChunkTracker("r-1", 2, 0, &recordingSink{})
	batches, err := tracker.Collect(context.Background(), stream, nil)
	require.Error(t, err)
	require.Equal(t, model.ErrData, model.KindOf(err))
	require.Len(t, batches, 1)
}

func TestCollectTracksCursorHighWater(t *testing.T) {
	recs := []model.Record{
		{"id": 1, "seq": 1},
		{"id": 2, "seq": 5},
		{"id": 3, "seq": 3},
	}
	tracker := NewChunkTracker("r-1", 10, 0, &recordingSink{})
	_, err := tracker.Collect(context.Background(), streamOf(recs, "seq", 0), nil)
	require.NoError(t, err)

	cursor := tracker.MaxCursor()
	require.NotNil(t, cursor)
	require.Equal(t, "5", cursor.Raw)
}

func TestCollectKeepsInitialCursorWhenStreamIsOlder(t *testing.T) {
	initial, err := ParseCursor("seq", "10")
	require.NoError(t, err)

	recs := []model.Record{{"id": 1, "seq": 7}}
	tracker := NewChunkTracker("r-1", 10, 0, &recordingSink{})
	_, err = tracker.Collect(context.Background(), streamOf(recs, "seq", 0), initial)
	require.NoError(t, err)
	require.Equal(t, "10", tracker.MaxCursor().Raw)
}
