package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pipeline-engine/internal/model"
)

// CreatePipeline stores a new pipeline definition. The source/target/schedule
// descriptors are kept as a JSON spec blob; counters live in columns so they
// can be updated without rewriting the spec.
func (s *DB) CreatePipeline(p *model.Pipeline) error {
	spec, err := json.Marshal(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err = s.db.Exec(
		`INSERT INTO pipelines (id, name, spec, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(spec), now, now,
	)
	return err
}

// GetPipeline fetches a pipeline by ID.
func (s *DB) GetPipeline(id string) (*model.Pipeline, error) {
	return s.fetchPipeline(`WHERE id = ?`, id)
}

// GetPipelineByName fetches a pipeline by its unique name.
func (s *DB) GetPipelineByName(name string) (*model.Pipeline, error) {
	return s.fetchPipeline(`WHERE name = ?`, name)
}

func (s *DB) fetchPipeline(where string, arg interface{}) (*model.Pipeline, error) {
	row := s.db.QueryRow(`SELECT spec, total_runs, successful_runs, failed_runs,
		last_run_status, last_successful_run, last_failed_run, created_at, updated_at
		FROM pipelines `+where, arg)

	var spec string
	var p model.Pipeline
	var lastStatus sql.NullString
	var lastOK, lastFail sql.NullTime
	err := row.Scan(&spec, &p.TotalRuns, &p.SuccessfulRuns, &p.FailedRuns,
		&lastStatus, &lastOK, &lastFail, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %v: %w", arg, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	counters := p
	if err := json.Unmarshal([]byte(spec), &p); err != nil {
		return nil, err
	}
	p.TotalRuns = counters.TotalRuns
	p.SuccessfulRuns = counters.SuccessfulRuns
	p.FailedRuns = counters.FailedRuns
	p.CreatedAt = counters.CreatedAt
	p.UpdatedAt = counters.UpdatedAt
	if lastStatus.Valid {
		p.LastRunStatus = lastStatus.String
	}
	if lastOK.Valid {
		t := lastOK.Time
		p.LastSuccessfulRun = &t
	}
	if lastFail.Valid {
		t := lastFail.Time
		p.LastFailedRun = &t
	}
	return &p, nil
}

// ListPipelines returns all pipelines, newest first.
func (s *DB) ListPipelines() ([]*model.Pipeline, error) {
	// The pool is capped at one connection, so collect the IDs and close
	// the iterator before issuing the per-pipeline queries.
	ids, err := s.listPipelineIDs()
	if err != nil {
		return nil, err
	}
	pipelines := make([]*model.Pipeline, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPipeline(id)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

func (s *DB) listPipelineIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM pipelines ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePipelineCounters bumps the aggregate run counters and last-run fields
// after a run is sealed. One statement so readers never see half an update.
func (s *DB) UpdatePipelineCounters(pipelineID string, succeeded bool, at time.Time) error {
	if succeeded {
		_, err := s.db.Exec(`UPDATE pipelines SET
			total_runs = total_runs + 1,
			successful_runs = successful_runs + 1,
			last_run_status = 'completed',
			last_successful_run = ?,
			updated_at = ?
			WHERE id = ?`, at, at, pipelineID)
		return err
	}
	_, err := s.db.Exec(`UPDATE pipelines SET
		total_runs = total_runs + 1,
		failed_runs = failed_runs + 1,
		last_run_status = 'failed',
		last_failed_run = ?,
		updated_at = ?
		WHERE id = ?`, at, at, pipelineID)
	return err
}

// SaveCursor records the committed incremental high-water mark.
func (s *DB) SaveCursor(pipelineID, raw string) error {
	_, err := s.db.Exec(`UPDATE pipelines SET last_cursor = ? WHERE id = ?`, raw, pipelineID)
	return err
}

// LastCursor returns the high-water mark from the last successful run, or ""
// when the pipeline has never committed one.
func (s *DB) LastCursor(pipelineID string) (string, error) {
	var cursor sql.NullString
	err := s.db.QueryRow(`SELECT last_cursor FROM pipelines WHERE id = ?`, pipelineID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("pipeline %s: %w", pipelineID, model.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return cursor.String, nil
}
