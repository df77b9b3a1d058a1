package model

// SourceKind is the closed set of supported source types. Adapters are
// resolved once at pipeline load through a registry keyed by kind.
type SourceKind string

const (
	SourceAPI         SourceKind = "api"
	SourceSQLTable    SourceKind = "sql_table"
	SourceSQLDatabase SourceKind = "sql_database"
	SourceObjectStore SourceKind = "object_store"
)

// LoadMode selects between full reloads and cursor-bounded increments.
type LoadMode string

const (
	LoadFull        LoadMode = "full"
	LoadIncremental LoadMode = "incremental"
)

// Disposition is how extracted records are applied to the target.
type Disposition string

const (
	DispositionReplace Disposition = "replace"
	DispositionAppend  Disposition = "append"
	DispositionMerge   Disposition = "merge"
)

// PaginationType selects the API adapter's paging strategy.
type PaginationType string

const (
	PaginationNone       PaginationType = "none"
	PaginationPageNumber PaginationType = "page_number"
	PaginationOffset     PaginationType = "offset"
	PaginationCursor     PaginationType = "cursor"
)

// Pagination configures the API adapter's paging.
type Pagination struct {
	Type     PaginationType `json:"type,omitempty" validate:"omitempty,oneof=none page_number offset cursor"`
	PageSize int            `json:"page_size,omitempty" validate:"omitempty,min=1"`
	MaxPages int            `json:"max_pages,omitempty" validate:"omitempty,min=1"`
	// CursorPath is a dotted path into the response body that holds the next
	// page token when Type is "cursor", e.g. "meta.next_cursor".
	CursorPath string `json:"cursor_path,omitempty"`
}

// Incremental holds the cursor settings for incremental loads.
type Incremental struct {
	// PrimaryKey drives merge disposition. Empty means append.
	PrimaryKey []string `json:"primary_key,omitempty"`
	// CursorField may be a dotted path into nested records, e.g. "meta.updatedAt".
	CursorField string `json:"cursor_field" validate:"required"`
	// InitialValue bounds the very first run, e.g. "1900-01-01" or "0".
	InitialValue string `json:"initial_value,omitempty"`
}

// SourceConfig is the extraction half of a pipeline definition. It is
// snapshotted at run start; a run never observes config edits.
type SourceConfig struct {
	Kind     SourceKind `json:"kind" validate:"required,oneof=api sql_table sql_database object_store"`
	Mode     LoadMode   `json:"mode" validate:"required,oneof=full incremental"`
	Location string     `json:"location" validate:"required"` // URL, DSN, or object path

	Incremental *Incremental `json:"incremental,omitempty"`

	// ChunkSize bounds each processed batch; 0 means the engine default.
	ChunkSize int `json:"chunk_size,omitempty" validate:"omitempty,min=1"`
	// Parallelism is a fan-out hint for adapters that support key-range splits.
	Parallelism int `json:"parallelism,omitempty" validate:"omitempty,min=1"`

	// API-source settings.
	Pagination   *Pagination       `json:"pagination,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	AuthToken    string            `json:"auth_token,omitempty"`
	DataSelector string            `json:"data_selector,omitempty"` // envelope key holding the records

	// SQL-source settings.
	Driver string   `json:"driver,omitempty" validate:"omitempty,oneof=postgres sqlserver sqlite3"`
	Schema string   `json:"schema,omitempty"`
	Table  string   `json:"table,omitempty"`
	Tables []string `json:"tables,omitempty"` // optional restriction for sql_database
}
