package engine

import (
	"time"

	"pipeline-engine/internal/model"
	"pipeline-engine/pkg/utils"
)

// ResolveDisposition maps the load mode to a write disposition. Incremental
// loads merge when a primary key is configured and append otherwise; full
// loads replace. (The replace itself is the loader's job.)
func ResolveDisposition(cfg model.SourceConfig) model.Disposition {
	if cfg.Mode == model.LoadFull {
		return model.DispositionReplace
	}
	if cfg.Incremental != nil && len(cfg.Incremental.PrimaryKey) > 0 {
		return model.DispositionMerge
	}
	return model.DispositionAppend
}

// InitialCursor selects the lower bound for an incremental run: the cursor
// committed by the last successful run when one exists, else the configured
// initial value, else nil (unbounded first pull). A committed mark is
// exclusive since its rows are already loaded; the configured initial value
// is inclusive so the first run picks up rows sitting exactly on it. Full
// loads never carry a cursor.
func InitialCursor(cfg model.SourceConfig, lastCommitted string) (*model.CursorValue, error) {
	if cfg.Mode != model.LoadIncremental || cfg.Incremental == nil || cfg.Incremental.CursorField == "" {
		return nil, nil
	}
	raw := lastCommitted
	inclusive := false
	if raw == "" {
		raw = cfg.Incremental.InitialValue
		inclusive = true
	}
	if raw == "" {
		return nil, nil
	}
	cv, err := ParseCursor(cfg.Incremental.CursorField, raw)
	if cv != nil {
		cv.Inclusive = inclusive
	}
	return cv, err
}

// ParseCursor turns a raw cursor string into a comparable value: a timestamp
// when it parses as one, else a number, else the raw string.
func ParseCursor(field, raw string) (*model.CursorValue, error) {
	cv := &model.CursorValue{Field: utils.FlattenKey(field), Raw: raw}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			cv.Time = &t
			return cv, nil
		}
	}
	switch v := utils.ParseValue(raw).(type) {
	case int:
		f := float64(v)
		cv.Num = &f
	case float64:
		cv.Num = &v
	}
	return cv, nil
}
