package model

import (
	"strconv"
	"time"
)

// CursorValue is a parsed incremental watermark: either a timestamp or a
// number, with the raw string kept for persistence and display. Inclusive
// marks a configured starting bound, where rows equal to the bound have never
// been loaded and must be kept; marks committed by a prior run leave it
// unset, so rows at the bound are deduplicated.
type CursorValue struct {
	Field     string     `json:"field"` // flattened top-level field name
	Time      *time.Time `json:"time,omitempty"`
	Num       *float64   `json:"num,omitempty"`
	Raw       string     `json:"raw"`
	Inclusive bool       `json:"inclusive,omitempty"`
}

// Before reports whether v sorts before the cursor bound and should be
// skipped on incremental runs: at-or-before for committed marks, strictly
// before for inclusive starting bounds.
func (c *CursorValue) Before(v interface{}) bool {
	if c == nil {
		return false
	}
	switch {
	case c.Time != nil:
		t, ok := coerceTime(v)
		if !ok {
			return false
		}
		return t.Before(*c.Time) || (!c.Inclusive && t.Equal(*c.Time))
	case c.Num != nil:
		f, ok := coerceFloat(v)
		if !ok {
			return false
		}
		return f < *c.Num || (!c.Inclusive && f == *c.Num)
	default:
		s, ok := v.(string)
		if !ok {
			return false
		}
		return s < c.Raw || (!c.Inclusive && s == c.Raw)
	}
}

// Observe returns the larger of the cursor and the observed value, so the
// caller can track the high-water mark across a run.
func (c *CursorValue) Observe(v interface{}) *CursorValue {
	if c == nil {
		return nil
	}
	if c.Before(v) {
		return c
	}
	next := &CursorValue{Field: c.Field}
	switch {
	case c.Time != nil:
		t, ok := coerceTime(v)
		if !ok {
			return c
		}
		next.Time = &t
		next.Raw = t.Format(time.RFC3339Nano)
	case c.Num != nil:
		f, ok := coerceFloat(v)
		if !ok {
			return c
		}
		next.Num = &f
		next.Raw = strconv.FormatFloat(f, 'f', -1, 64)
	default:
		s, ok := v.(string)
		if !ok {
			return c
		}
		next.Raw = s
	}
	return next
}

// CursorFromValue builds a cursor from the first observed record value, for
// runs that start without a lower bound.
func CursorFromValue(field string, v interface{}) *CursorValue {
	cv := &CursorValue{Field: field}
	if t, ok := coerceTime(v); ok {
		cv.Time = &t
		cv.Raw = t.Format(time.RFC3339Nano)
		return cv
	}
	if f, ok := coerceFloat(v); ok {
		cv.Num = &f
		cv.Raw = strconv.FormatFloat(f, 'f', -1, 64)
		return cv
	}
	if s, ok := v.(string); ok {
		cv.Raw = s
		return cv
	}
	return nil
}

func coerceTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func coerceFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	case string:
		if parsed, err := strconv.ParseFloat(f, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
