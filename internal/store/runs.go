package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pipeline-engine/internal/model"
)

// CreateRun inserts a fresh pending run.
func (s *DB) CreateRun(run *model.PipelineRun) error {
	_, err := s.db.Exec(`INSERT INTO pipeline_runs
		(id, pipeline_id, pipeline_name, status, extract_status, normalize_status, load_status, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PipelineID, run.PipelineName, run.Status,
		run.ExtractStatus, run.NormalizeStatus, run.LoadStatus, run.StartTime,
	)
	return err
}

// UpdateRunStatus flips the overall status.
func (s *DB) UpdateRunStatus(runID string, status model.RunStatus) error {
	_, err := s.db.Exec(`UPDATE pipeline_runs SET status = ? WHERE id = ?`, status, runID)
	return err
}

// UpdateRunStage records a stage transition. The stage's start or end
// timestamp is stamped in the same statement as the status change.
func (s *DB) UpdateRunStage(runID string, stage model.Stage, status model.StageStatus, at time.Time) error {
	var column, tsColumn string
	switch stage {
	case model.StageExtract:
		column = "extract_status"
	case model.StageNormalize:
		column = "normalize_status"
	case model.StageLoad:
		column = "load_status"
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	if status == model.StageRunning {
		tsColumn = string(stage) + "_start_time"
	} else {
		tsColumn = string(stage) + "_end_time"
	}
	query := fmt.Sprintf(`UPDATE pipeline_runs SET %s = ?, %s = ? WHERE id = ?`, column, tsColumn)
	_, err := s.db.Exec(query, status, at, runID)
	return err
}

// UpdateRunProgress writes a batch-boundary progress snapshot in one
// statement, so a polling reader always sees a consistent set of counters.
func (s *DB) UpdateRunProgress(runID string, rowsProcessed, processedChunks, totalRows, totalChunks int64, estimatedDone *time.Time) error {
	_, err := s.db.Exec(`UPDATE pipeline_runs SET
		rows_processed = ?, processed_chunks = ?, total_rows = ?, total_chunks = ?, estimated_completion = ?
		WHERE id = ?`,
		rowsProcessed, processedChunks, totalRows, totalChunks, estimatedDone, runID)
	return err
}

// SealRun finalizes a run. Runs are append-only history after this.
func (s *DB) SealRun(run *model.PipelineRun) error {
	_, err := s.db.Exec(`UPDATE pipeline_runs SET
		status = ?, extract_status = ?, normalize_status = ?, load_status = ?,
		end_time = ?, duration = ?, rows_processed = ?, error_message = ?
		WHERE id = ?`,
		run.Status, run.ExtractStatus, run.NormalizeStatus, run.LoadStatus,
		run.EndTime, run.Duration, run.RowsProcessed, nullable(run.ErrorMessage), run.ID)
	return err
}

// GetRun fetches one run by ID.
func (s *DB) GetRun(runID string) (*model.PipelineRun, error) {
	runs, err := s.queryRuns(`WHERE id = ?`, []interface{}{runID}, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns run history matching the filter, newest first.
func (s *DB) ListRuns(filter model.RunFilter) ([]*model.PipelineRun, error) {
	var clauses []string
	var args []interface{}
	if filter.PipelineName != "" {
		clauses = append(clauses, "pipeline_name = ?")
		args = append(args, filter.PipelineName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		clauses = append(clauses, "start_time >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		clauses = append(clauses, "start_time <= ?")
		args = append(args, *filter.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return s.queryRuns(where, args, limit)
}

func (s *DB) queryRuns(where string, args []interface{}, limit int) ([]*model.PipelineRun, error) {
	query := fmt.Sprintf(`SELECT id, pipeline_id, pipeline_name, status,
		extract_status, normalize_status, load_status,
		start_time, end_time, duration,
		extract_start_time, extract_end_time,
		normalize_start_time, normalize_end_time,
		load_start_time, load_end_time,
		rows_processed, total_rows, total_chunks, processed_chunks,
		estimated_completion, error_message
		FROM pipeline_runs %s ORDER BY start_time DESC LIMIT %d`, where, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.PipelineRun
	for rows.Next() {
		var run model.PipelineRun
		var endTime, exStart, exEnd, noStart, noEnd, ldStart, ldEnd, eta sql.NullTime
		var duration sql.NullFloat64
		var errMsg sql.NullString
		err := rows.Scan(&run.ID, &run.PipelineID, &run.PipelineName, &run.Status,
			&run.ExtractStatus, &run.NormalizeStatus, &run.LoadStatus,
			&run.StartTime, &endTime, &duration,
			&exStart, &exEnd, &noStart, &noEnd, &ldStart, &ldEnd,
			&run.RowsProcessed, &run.TotalRows, &run.TotalChunks, &run.ProcessedChunks,
			&eta, &errMsg)
		if err != nil {
			return nil, err
		}
		run.EndTime = timePtr(endTime)
		run.ExtractStart = timePtr(exStart)
		run.ExtractEnd = timePtr(exEnd)
		run.NormalizeStart = timePtr(noStart)
		run.NormalizeEnd = timePtr(noEnd)
		run.LoadStart = timePtr(ldStart)
		run.LoadEnd = timePtr(ldEnd)
		run.EstimatedDone = timePtr(eta)
		if duration.Valid {
			run.Duration = duration.Float64
		}
		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
