// Package export provides read-only access to Nsight Systems SQLite exports.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

// Structural export versions this package understands.
const (
	MinSchemaMajor = 1
	MaxSchemaMajor = 3
)

const (
	metaTable        = "META_DATA_EXPORT"
	schemaVersionKey = "EXPORT_SCHEMA_VERSION"
	stringTable      = "StringIds"
)

// Export is an open, read-only export handle. It is safe for concurrent use
// by multiple extractors.
type Export struct {
	path    string
	db      *sql.DB
	tables  map[string]string // lower-case name -> declared name
	version string

	mu      sync.Mutex
	columns map[string][]string
	strs    StringTable
	closed  bool
}

type options struct {
	maxReaders int
}

// Option configures Open.
type Option func(*options)

// WithMaxReaders bounds the number of concurrent SQLite readers. One
// serializes every read through a single connection.
func WithMaxReaders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReaders = n
		}
	}
}

// Open opens the export at path read-only and checks its structure.
func Open(ctx context.Context, path string, opts ...Option) (*Export, error) {
	o := options{maxReaders: 1}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, converrors.NewExportError(converrors.CodeNotFound,
			fmt.Sprintf("export %s not found", path), err)
	}
	if info.IsDir() {
		return nil, converrors.NewExportError(converrors.CodeInvalidExport,
			fmt.Sprintf("export %s is a directory", path), nil)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, converrors.NewExportError(converrors.CodeInvalidExport, "open export", err)
	}
	db.SetMaxOpenConns(o.maxReaders)
	db.SetMaxIdleConns(o.maxReaders)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, converrors.NewExportError(converrors.CodeInvalidExport, "ping export", err)
	}

	e := &Export{
		path:    path,
		db:      db,
		tables:  make(map[string]string),
		columns: make(map[string][]string),
	}
	if err := e.loadTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := e.checkVersion(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// dsn builds a read-only SQLite URI. The path is escaped so that '#', '?'
// and '%' in file names are not read as URI syntax.
func dsn(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(path),
		RawQuery: "mode=ro&_query_only=true",
	}
	return u.String()
}

func (e *Export) loadTables(ctx context.Context) error {
	rows, err := e.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type IN ('table', 'view')")
	if err != nil {
		return converrors.NewExportError(converrors.CodeInvalidExport, "list tables", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return converrors.NewExportError(converrors.CodeInvalidExport, "scan table name", err)
		}
		e.tables[strings.ToLower(name)] = name
	}
	if err := rows.Err(); err != nil {
		return converrors.NewExportError(converrors.CodeInvalidExport, "list tables", err)
	}
	return nil
}

func (e *Export) checkVersion(ctx context.Context) error {
	if !e.HasTable(metaTable) {
		return nil
	}
	var value string
	err := e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE name = ?", quote(e.tables[strings.ToLower(metaTable)])),
		schemaVersionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return converrors.NewExportError(converrors.CodeInvalidExport, "read export metadata", err)
	}
	e.version = value

	majorText, _, _ := strings.Cut(strings.TrimSpace(value), ".")
	major, err := strconv.Atoi(majorText)
	if err != nil || major < MinSchemaMajor || major > MaxSchemaMajor {
		return converrors.NewExportError(converrors.CodeUnsupportedVersion,
			fmt.Sprintf("export schema version %q is not supported (want major %d..%d)",
				value, MinSchemaMajor, MaxSchemaMajor), nil).
			WithDetails(map[string]interface{}{"version": value})
	}
	return nil
}

// Path returns the file the export was opened from.
func (e *Export) Path() string { return e.path }

// SchemaVersion returns the declared export schema version, or "" when the
// export does not carry one.
func (e *Export) SchemaVersion() string { return e.version }

// HasTable reports whether the export contains the named table or view.
// Names are matched case-insensitively, like SQLite does.
func (e *Export) HasTable(name string) bool {
	_, ok := e.tables[strings.ToLower(name)]
	return ok
}

// Tables returns the declared table names in sorted order.
func (e *Export) Tables() []string {
	out := make([]string, 0, len(e.tables))
	for _, name := range e.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Columns returns the column names of a table in declaration order.
func (e *Export) Columns(ctx context.Context, table string) ([]string, error) {
	declared, ok := e.tables[strings.ToLower(table)]
	if !ok {
		return nil, tableMissing(table)
	}

	e.mu.Lock()
	cols, cached := e.columns[declared]
	e.mu.Unlock()
	if cached {
		return cols, nil
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(declared)))
	if err != nil {
		return nil, fmt.Errorf("export: table_info %s: %w", declared, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   sql.NullString
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("export: scan table_info %s: %w", declared, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export: table_info %s: %w", declared, err)
	}

	e.mu.Lock()
	e.columns[declared] = cols
	e.mu.Unlock()
	return cols, nil
}

// Present returns the subset of want that the table declares, in the order
// given. It is how extractors pick up optional columns.
func (e *Export) Present(ctx context.Context, table string, want ...string) ([]string, error) {
	cols, err := e.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c)] = true
	}
	var out []string
	for _, w := range want {
		if have[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	return out, nil
}

// Query selects columns from one table.
type Query struct {
	Table   string
	Columns []string
	Where   string
	Args    []any
	OrderBy string
}

func (q Query) sql(declared string) string {
	quoted := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		quoted[i] = quote(c)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), quote(declared))
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	return b.String()
}

// ReadRows runs q and calls fn for every row, in the order SQLite returns
// them. It returns the number of rows visited. The context is checked at
// every row boundary.
func (e *Export) ReadRows(ctx context.Context, q Query, fn func(Row) error) (int, error) {
	declared, ok := e.tables[strings.ToLower(q.Table)]
	if !ok {
		return 0, tableMissing(q.Table)
	}
	if len(q.Columns) == 0 {
		return 0, converrors.NewInternalError("query without columns on "+declared, nil)
	}

	missing, err := e.missingColumns(ctx, declared, q.Columns)
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		return 0, converrors.NewSchemaError(converrors.CodeColumnsMissing,
			fmt.Sprintf("table %s lacks columns %s", declared, strings.Join(missing, ", "))).
			WithDetails(map[string]interface{}{"table": declared, "columns": missing})
	}

	rows, err := e.db.QueryContext(ctx, q.sql(declared), q.Args...)
	if err != nil {
		return 0, fmt.Errorf("export: query %s: %w", declared, err)
	}
	defer rows.Close()

	row := newRow(declared, q.Columns)
	n := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := rows.Scan(row.dest...); err != nil {
			return n, fmt.Errorf("export: scan %s: %w", declared, err)
		}
		if err := fn(row); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("export: read %s: %w", declared, err)
	}
	return n, ctx.Err()
}

func (e *Export) missingColumns(ctx context.Context, table string, want []string) ([]string, error) {
	present, err := e.Present(ctx, table, want...)
	if err != nil {
		return nil, err
	}
	if len(present) == len(want) {
		return nil, nil
	}
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	var missing []string
	for _, w := range want {
		if !have[w] {
			missing = append(missing, w)
		}
	}
	return missing, nil
}

// Strings returns the string table, loading it on first use. An export
// without a StringIds table yields an empty table.
func (e *Export) Strings(ctx context.Context) (StringTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strs != nil {
		return e.strs, nil
	}

	strs := make(StringTable)
	declared, ok := e.tables[strings.ToLower(stringTable)]
	if ok {
		rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT id, value FROM %s", quote(declared)))
		if err != nil {
			return nil, fmt.Errorf("export: load strings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id    int64
				value sql.NullString
			)
			if err := rows.Scan(&id, &value); err != nil {
				return nil, fmt.Errorf("export: scan string: %w", err)
			}
			strs[id] = value.String
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("export: load strings: %w", err)
		}
	}
	e.strs = strs
	return strs, nil
}

// Close releases the handle. It is safe to call more than once.
func (e *Export) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// StringTable maps string ids to their values.
type StringTable map[int64]string

// Lookup returns the string for id.
func (s StringTable) Lookup(id int64) (string, bool) {
	v, ok := s[id]
	return v, ok
}

// DecomposeGlobalID splits a packed global thread or process id into its
// process and thread parts.
func DecomposeGlobalID(g int64) (pid, tid int64) {
	return (g >> 24) & 0xFFFFFF, g & 0xFFFFFF
}

func tableMissing(table string) error {
	return converrors.NewSchemaError(converrors.CodeTableMissing,
		fmt.Sprintf("table %s not present", table)).
		WithDetails(map[string]interface{}{"table": table})
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
