// Package store persists pipelines, runs, and the audit log in sqlite. Every
// write is a single statement, so readers polling a run never observe a torn
// combination of fields.
package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database and ensures the schema. Pass
// ":memory:" for tests.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time; the engine writes from run
	// goroutines while handlers read.
	db.SetMaxOpenConns(1)

	s := &DB{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			spec TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			total_runs INTEGER DEFAULT 0,
			successful_runs INTEGER DEFAULT 0,
			failed_runs INTEGER DEFAULT 0,
			last_run_status TEXT,
			last_successful_run DATETIME,
			last_failed_run DATETIME,
			last_cursor TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			pipeline_name TEXT NOT NULL,
			status TEXT NOT NULL,
			extract_status TEXT NOT NULL,
			normalize_status TEXT NOT NULL,
			load_status TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			duration REAL,
			extract_start_time DATETIME,
			extract_end_time DATETIME,
			normalize_start_time DATETIME,
			normalize_end_time DATETIME,
			load_start_time DATETIME,
			load_end_time DATETIME,
			rows_processed INTEGER DEFAULT 0,
			total_rows INTEGER DEFAULT 0,
			total_chunks INTEGER DEFAULT 0,
			processed_chunks INTEGER DEFAULT 0,
			estimated_completion DATETIME,
			error_message TEXT,
			FOREIGN KEY (pipeline_id) REFERENCES pipelines(id)
		);`,
		`CREATE TABLE IF NOT EXISTS pipeline_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_id TEXT NOT NULL,
			pipeline_name TEXT NOT NULL,
			run_id TEXT,
			event TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			duration REAL,
			log_message TEXT,
			row_counts TEXT,
			FOREIGN KEY (pipeline_id) REFERENCES pipelines(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline_id ON pipeline_runs(pipeline_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_start_time ON pipeline_runs(start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_logs_run_id ON pipeline_logs(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_logs_event ON pipeline_logs(event);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
