package store

import (
	"database/sql"
	"encoding/json"

	"pipeline-engine/internal/model"
)

// AppendLog writes one immutable audit event. The ID comes from the
// autoincrement column; events are never updated or deleted.
func (s *DB) AppendLog(event *model.LogEvent) error {
	var rowCounts interface{}
	if len(event.RowCounts) > 0 {
		encoded, err := json.Marshal(event.RowCounts)
		if err != nil {
			return err
		}
		rowCounts = string(encoded)
	}
	result, err := s.db.Exec(`INSERT INTO pipeline_logs
		(pipeline_id, pipeline_name, run_id, event, timestamp, duration, log_message, row_counts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.PipelineID, event.PipelineName, nullable(event.RunID),
		event.Event, event.Timestamp, event.Duration, event.Message, rowCounts,
	)
	if err != nil {
		return err
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListLogs returns a pipeline's audit trail, newest first.
func (s *DB) ListLogs(pipelineID string, limit int) ([]*model.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, pipeline_id, pipeline_name, run_id, event, timestamp, duration, log_message, row_counts
		FROM pipeline_logs WHERE pipeline_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, pipelineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.LogEvent
	for rows.Next() {
		var ev model.LogEvent
		var runID, message, rowCounts sql.NullString
		var duration sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ev.PipelineID, &ev.PipelineName, &runID, &ev.Event, &ev.Timestamp, &duration, &message, &rowCounts); err != nil {
			return nil, err
		}
		ev.RunID = runID.String
		ev.Message = message.String
		if duration.Valid {
			ev.Duration = duration.Float64
		}
		if rowCounts.Valid && rowCounts.String != "" {
			if err := json.Unmarshal([]byte(rowCounts.String), &ev.RowCounts); err != nil {
				return nil, err
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
