package source

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-multierror"

	"pipeline-engine/internal/model"
	"pipeline-engine/pkg/utils"
)

// SQLDatabaseExtractor emits every table in a schema as one concatenated
// stream, each record stamped with its table name. An explicit table list in
// the config restricts the set; otherwise the schema is introspected.
type SQLDatabaseExtractor struct {
	OpenDB func(driver, dsn string) (*sql.DB, error)
}

func (s *SQLDatabaseExtractor) Kind() model.SourceKind { return model.SourceSQLDatabase }

func (s *SQLDatabaseExtractor) open(cfg model.SourceConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if s.OpenDB != nil {
		return s.OpenDB(driver, cfg.Location)
	}
	return sql.Open(driver, cfg.Location)
}

func (s *SQLDatabaseExtractor) Extract(ctx context.Context, cfg model.SourceConfig, cursor *model.CursorValue) (*RecordStream, error) {
	db, err := s.open(cfg)
	if err != nil {
		return nil, model.NewError(model.ErrConfig, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, model.NewError(model.ErrConnectivity, err)
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		tables, err = listTables(ctx, db, cfg)
		if err != nil {
			db.Close()
			return nil, model.NewError(model.ErrConnectivity, err)
		}
	}
	if len(tables) == 0 {
		db.Close()
		return nil, model.Errorf(model.ErrConfig, "schema %q has no tables", cfg.Schema)
	}

	cursorField := ""
	if cfg.Mode == model.LoadIncremental && cfg.Incremental != nil {
		cursorField = utils.FlattenKey(cfg.Incremental.CursorField)
	}

	var estimate int64
	for _, table := range tables {
		tableCfg := cfg
		tableCfg.Table = table
		where, args := cursorBound(tableCfg, cursor)
		estimate += countRows(ctx, db, qualifiedTable(tableCfg), where, args)
	}

	stream := func(yield func(model.Record, error) bool) {
		defer db.Close()
		var errs *multierror.Error
		for _, table := range tables {
			tableCfg := cfg
			tableCfg.Table = table
			where, args := cursorBound(tableCfg, cursor)
			query := "SELECT * FROM " + qualifiedTable(tableCfg) + where

			ok := true
			scanRows(ctx, db, query, args, tableCfg, func(rec model.Record, err error) bool {
				if err != nil {
					// A broken table aborts that table only; the rest of the
					// schema still loads, and the combined error surfaces at
					// the end of the stream.
					errs = multierror.Append(errs, err)
					return false
				}
				rec[TableField] = table
				ok = yield(rec, nil)
				return ok
			})
			if !ok {
				return
			}
		}
		if err := errs.ErrorOrNil(); err != nil {
			yield(nil, err)
		}
	}

	return &RecordStream{Records: stream, CursorField: cursorField, EstimatedRows: estimate}, nil
}

// listTables introspects the schema's base tables.
func listTables(ctx context.Context, db *sql.DB, cfg model.SourceConfig) ([]string, error) {
	var query string
	var args []interface{}
	switch cfg.Driver {
	case "sqlite3":
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	default:
		query = `SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema = ` + placeholder(cfg.Driver, 1)
		schema := cfg.Schema
		if schema == "" {
			schema = "public"
		}
		args = append(args, schema)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
