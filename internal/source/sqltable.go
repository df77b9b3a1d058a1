package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	// Drivers the SQL adapters can open. sqlite3 is registered by the store's
	// import; kept here too so the adapter works standalone.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"pipeline-engine/internal/model"
	"pipeline-engine/pkg/utils"
)

// SQLTableExtractor emits rows from one named table, optionally bounded below
// by the incremental cursor and fanned out across key ranges when the config
// carries a parallelism hint. The engine always consumes a single merged
// stream.
type SQLTableExtractor struct {
	// OpenDB overrides database opening in tests.
	OpenDB func(driver, dsn string) (*sql.DB, error)
}

func (s *SQLTableExtractor) Kind() model.SourceKind { return model.SourceSQLTable }

func (s *SQLTableExtractor) open(cfg model.SourceConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if s.OpenDB != nil {
		return s.OpenDB(driver, cfg.Location)
	}
	return sql.Open(driver, cfg.Location)
}

func (s *SQLTableExtractor) Extract(ctx context.Context, cfg model.SourceConfig, cursor *model.CursorValue) (*RecordStream, error) {
	if cfg.Table == "" {
		return nil, model.Errorf(model.ErrConfig, "sql_table source requires a table name")
	}
	db, err := s.open(cfg)
	if err != nil {
		return nil, model.NewError(model.ErrConfig, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, model.NewError(model.ErrConnectivity, err)
	}

	table := qualifiedTable(cfg)
	where, args := cursorBound(cfg, cursor)

	estimate := countRows(ctx, db, table, where, args)

	cursorField := ""
	if cfg.Mode == model.LoadIncremental && cfg.Incremental != nil {
		cursorField = utils.FlattenKey(cfg.Incremental.CursorField)
	}

	stream := func(yield func(model.Record, error) bool) {
		defer db.Close()
		if cfg.Parallelism > 1 && singleNumericKey(cfg) != "" {
			s.fanOut(ctx, db, cfg, table, where, args, yield)
			return
		}
		query := "SELECT * FROM " + table + where
		scanRows(ctx, db, query, args, cfg, yield)
	}

	return &RecordStream{Records: stream, CursorField: cursorField, EstimatedRows: estimate}, nil
}

// fanOut splits the table by primary-key range and merges the per-range rows
// into one channel. Order across ranges is not guaranteed, which is fine: the
// load dispositions are order-independent at the row level.
func (s *SQLTableExtractor) fanOut(ctx context.Context, db *sql.DB, cfg model.SourceConfig, table, where string, args []interface{}, yield func(model.Record, error) bool) {
	pk := singleNumericKey(cfg)

	var lo, hi sql.NullFloat64
	bound := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s%s", pk, pk, table, where)
	if err := db.QueryRowContext(ctx, bound, args...).Scan(&lo, &hi); err != nil {
		yield(nil, model.NewError(model.ErrConnectivity, err))
		return
	}
	if !lo.Valid || !hi.Valid {
		return // empty table
	}

	n := cfg.Parallelism
	span := (hi.Float64 - lo.Float64) / float64(n)
	out := make(chan model.Record, 256)
	errs := make(chan error, n)
	// Closed when the consumer walks away, so range workers stop instead of
	// blocking on a channel nobody reads.
	done := make(chan struct{})
	defer close(done)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		lower := lo.Float64 + span*float64(i)
		upper := lo.Float64 + span*float64(i+1)
		cmp := "<"
		if i == n-1 {
			cmp = "<=" // last range is inclusive so the max key is not dropped
		}
		clause := where
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		query := fmt.Sprintf("SELECT * FROM %s%s%s >= %f AND %s %s %f", table, clause, pk, lower, pk, cmp, upper)

		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			rows, err := db.QueryContext(ctx, q, args...)
			if err != nil {
				errs <- model.NewError(model.ErrConnectivity, err)
				return
			}
			defer rows.Close()
			for rows.Next() {
				rec, err := scanRecord(rows, cfg)
				if err != nil {
					errs <- model.NewError(model.ErrData, err)
					return
				}
				select {
				case out <- rec:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
			if err := rows.Err(); err != nil {
				errs <- model.NewError(model.ErrConnectivity, err)
			}
		}(query)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for rec := range out {
		if !yield(rec, nil) {
			return
		}
	}

	// out is closed, so every worker has finished; report all range errors.
	var merged *multierror.Error
	for len(errs) > 0 {
		merged = multierror.Append(merged, <-errs)
	}
	if err := merged.ErrorOrNil(); err != nil {
		yield(nil, err)
	}
}

// scanRows runs a query and yields each row as a generic record.
func scanRows(ctx context.Context, db *sql.DB, query string, args []interface{}, cfg model.SourceConfig, yield func(model.Record, error) bool) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		yield(nil, model.NewError(model.ErrConnectivity, err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			yield(nil, model.NewError(model.ErrCancelled, ctx.Err()))
			return
		default:
		}
		rec, err := scanRecord(rows, cfg)
		if err != nil {
			yield(nil, model.NewError(model.ErrData, err))
			return
		}
		if !yield(rec, nil) {
			return
		}
	}
	if err := rows.Err(); err != nil {
		yield(nil, model.NewError(model.ErrConnectivity, err))
	}
}

// scanRecord scans the current row into a map, converting []byte to string.
func scanRecord(rows *sql.Rows, cfg model.SourceConfig) (model.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	rec := make(model.Record, len(cols))
	for i, col := range cols {
		val := values[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		rec[col] = val
	}
	if cfg.Mode == model.LoadIncremental && cfg.Incremental != nil {
		field := cfg.Incremental.CursorField
		flat := utils.FlattenKey(field)
		if flat != field {
			if v, ok := rec[field]; ok {
				rec[flat] = v
			}
		}
	}
	return rec, nil
}

func qualifiedTable(cfg model.SourceConfig) string {
	if cfg.Schema != "" {
		return cfg.Schema + "." + cfg.Table
	}
	return cfg.Table
}

// cursorBound builds the incremental WHERE clause. Placeholder syntax varies
// per driver, so the bound value is compared through a positional marker.
func cursorBound(cfg model.SourceConfig, cursor *model.CursorValue) (string, []interface{}) {
	if cfg.Mode != model.LoadIncremental || cfg.Incremental == nil || cursor == nil {
		return "", nil
	}
	field := cfg.Incremental.CursorField
	if field == "" {
		return "", nil
	}
	var bound interface{} = cursor.Raw
	if cursor.Num != nil {
		bound = *cursor.Num
	}
	cmp := ">"
	if cursor.Inclusive {
		cmp = ">="
	}
	return fmt.Sprintf(" WHERE %s %s %s", field, cmp, placeholder(cfg.Driver, 1)), []interface{}{bound}
}

func placeholder(driver string, n int) string {
	switch driver {
	case "postgres":
		return fmt.Sprintf("$%d", n)
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

func countRows(ctx context.Context, db *sql.DB, table, where string, args []interface{}) int64 {
	var count int64
	query := "SELECT COUNT(*) FROM " + table + where
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0 // estimate only; extraction decides the real total
	}
	return count
}

func singleNumericKey(cfg model.SourceConfig) string {
	if cfg.Incremental == nil || len(cfg.Incremental.PrimaryKey) != 1 {
		return ""
	}
	key := cfg.Incremental.PrimaryKey[0]
	if strings.Contains(key, ".") {
		return ""
	}
	return key
}
