package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pipeline-engine/internal/model"
)

// Loader commits normalized batches to the warehouse. The warehouse write
// itself is external to the engine; SQLiteLoader below is the reference
// implementation used by the CLI and tests.
type Loader interface {
	// Commit applies one batch under the given disposition. Replace semantics
	// (truncation of the target) are the loader's responsibility; the engine
	// signals the first batch of a run so the loader knows when to truncate.
	Commit(ctx context.Context, batch []model.Record, disposition model.Disposition, target model.Target, creds model.Credentials, firstBatch bool) error
}

// SQLiteLoader writes batches into a local sqlite database, one table per
// target, with rows stored as JSON payloads keyed by the record's primary key.
type SQLiteLoader struct {
	DB         *sql.DB
	PrimaryKey []string
}

func NewSQLiteLoader(db *sql.DB) *SQLiteLoader {
	return &SQLiteLoader{DB: db}
}

func (l *SQLiteLoader) Commit(ctx context.Context, batch []model.Record, disposition model.Disposition, target model.Target, _ model.Credentials, firstBatch bool) error {
	table := loaderTableName(target)
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		pk TEXT PRIMARY KEY,
		payload TEXT,
		loaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`, table)
	if _, err := l.DB.ExecContext(ctx, create); err != nil {
		return model.NewError(model.ErrLoader, err)
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.NewError(model.ErrLoader, err)
	}
	defer tx.Rollback()

	if disposition == model.DispositionReplace && firstBatch {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return model.NewError(model.ErrLoader, err)
		}
	}

	verb := "INSERT INTO"
	if disposition == model.DispositionMerge {
		verb = "INSERT OR REPLACE INTO"
	}
	stmt, err := tx.PrepareContext(ctx, verb+" "+table+" (pk, payload) VALUES (?, ?)")
	if err != nil {
		return model.NewError(model.ErrLoader, err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		payload, err := json.Marshal(rec)
		if err != nil {
			return model.NewError(model.ErrLoader, err)
		}
		if _, err := stmt.ExecContext(ctx, l.recordKey(rec, disposition), string(payload)); err != nil {
			return model.NewError(model.ErrLoader, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.ErrLoader, err)
	}
	return nil
}

// recordKey builds the row key. Merge uses the configured primary key so
// re-loaded rows upsert, falling back to the record's "id" field; append and
// replace get a fresh surrogate key.
func (l *SQLiteLoader) recordKey(rec model.Record, disposition model.Disposition) string {
	if disposition == model.DispositionMerge {
		keys := l.PrimaryKey
		if len(keys) == 0 {
			if _, ok := rec["id"]; ok {
				keys = []string{"id"}
			}
		}
		if len(keys) > 0 {
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%v", rec[k]))
			}
			return strings.Join(parts, "|")
		}
	}
	return uuid.New().String()
}

func loaderTableName(target model.Target) string {
	name := target.Table
	if target.Dataset != "" {
		name = target.Dataset + "_" + target.Table
	}
	// Table names cannot be bound parameters; restrict to safe characters.
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
