package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQL reads and writes forecast tables in Postgres or SQLite.
type SQL struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

// DriverFor infers the driver from a connection URL; it returns "" when unknown.
func DriverFor(dsn string) string {
	d := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(d, "sqlite://"), strings.HasPrefix(d, "file:"),
		strings.HasSuffix(d, ".db"), strings.HasSuffix(d, ".sqlite"), d == ":memory:":
		return DriverSQLite
	}
	return ""
}

// OpenSQL opens a connection pool. An empty driver is inferred from dsn. The pool
// connects lazily, so an unreachable server surfaces on first use, not here.
func OpenSQL(driverName, dsn string, log *zap.Logger) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("open database: empty connection string")
	}
	if driverName == "" {
		driverName = DriverFor(dsn)
	}
	switch strings.ToLower(driverName) {
	case "postgres", "postgresql", "pq":
		driverName = DriverPostgres
	case "sqlite", "sqlite3":
		driverName = DriverSQLite
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	default:
		return nil, fmt.Errorf("open database: unsupported driver %q", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driverName == DriverSQLite {
		// one connection keeps in-memory databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return NewSQL(db, driverName, log), nil
}

// NewSQL wraps an existing pool.
func NewSQL(db *sql.DB, driverName string, log *zap.Logger) *SQL {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQL{db: db, driver: driverName, log: log}
}

// Driver returns the driver name.
func (s *SQL) Driver() string { return s.driver }

// Close releases the pool.
func (s *SQL) Close() error { return s.db.Close() }

// Ping runs SELECT 1.
func (s *SQL) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping: %v: %w", err, ErrUnavailable)
	}
	return nil
}

// Read returns up to limit rows of physical. The name is tried quoted as given,
// quoted lowercase, then bare lowercase when it is a safe identifier.
func (s *SQL) Read(ctx context.Context, physical string, limit int) (*dataset.Frame, error) {
	if strings.TrimSpace(physical) == "" {
		return nil, fmt.Errorf("read: empty name: %w", ErrTableNotFound)
	}
	if limit <= 0 {
		limit = dataset.DefaultRowLimit
	}
	var lastErr error
	for _, ident := range identCandidates(physical) {
		q := fmt.Sprintf("SELECT * FROM %s LIMIT %s", ident, s.placeholder(1))
		f, err := s.query(ctx, q, limit)
		if err == nil {
			return f, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isUnavailable(err) {
			return nil, fmt.Errorf("read %s: %v: %w", physical, err, ErrUnavailable)
		}
		s.log.Debug("select failed", zap.String("ident", ident), zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("read %s: %v: %w", physical, lastErr, ErrTableNotFound)
}

func identCandidates(name string) []string {
	lower := strings.ToLower(name)
	cands := []string{quoteIdent(name), quoteIdent(lower)}
	if ValidTableName(lower) {
		cands = append(cands, lower)
	}
	out := cands[:0]
	seen := map[string]bool{}
	for _, c := range cands {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func (s *SQL) query(ctx context.Context, q string, args ...any) (*dataset.Frame, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	f := &dataset.Frame{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i, v := range raw {
			row[i] = cell(v, types[i].DatabaseTypeName())
		}
		f.Rows = append(f.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func cell(v any, dbType string) any {
	if b, ok := v.([]byte); ok {
		switch strings.ToUpper(dbType) {
		case "NUMERIC", "DECIMAL", "MONEY":
			if x, err := strconv.ParseFloat(string(b), 64); err == nil {
				return dataset.Normalize(x)
			}
		}
	}
	return dataset.Normalize(v)
}

// isUnavailable separates connection and authentication failures from query errors.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "28", "3D", "53", "57":
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused")
}

// ListTables returns the user tables in the current schema.
func (s *SQL) ListTables(ctx context.Context) ([]string, error) {
	q := "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name"
	if s.driver == DriverSQLite {
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, s.wrap("list tables", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AppendTable inserts the frame's rows into table, creating it or adding missing
// columns as needed. It returns the number of rows inserted.
func (s *SQL) AppendTable(ctx context.Context, table string, f *dataset.Frame) (int, error) {
	return s.write(ctx, table, f, false)
}

// ReplaceTable drops table and recreates it from the frame.
func (s *SQL) ReplaceTable(ctx context.Context, table string, f *dataset.Frame) (int, error) {
	return s.write(ctx, table, f, true)
}

func (s *SQL) write(ctx context.Context, table string, f *dataset.Frame, replace bool) (int, error) {
	if !ValidTableName(table) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, table)
	}
	if f == nil || len(f.Columns) == 0 {
		return 0, fmt.Errorf("write %s: frame has no columns", table)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	ident := quoteIdent(table)
	if replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
			return 0, s.wrap("drop "+table, err)
		}
	}
	existing, err := s.tableColumns(ctx, tx, table)
	if err != nil {
		return 0, s.wrap("inspect "+table, err)
	}
	if len(existing) == 0 {
		defs := make([]string, len(f.Columns))
		for i, c := range f.Columns {
			defs[i] = quoteIdent(c) + " " + s.columnType(f, i)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return 0, s.wrap("create "+table, err)
		}
	} else {
		have := map[string]bool{}
		for _, c := range existing {
			have[c] = true
		}
		for i, c := range f.Columns {
			if have[c] {
				continue
			}
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", ident, quoteIdent(c), s.columnType(f, i))
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return 0, s.wrap("alter "+table, err)
			}
		}
	}

	cols := make([]string, len(f.Columns))
	phs := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		cols[i] = quoteIdent(c)
		phs[i] = s.placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident, strings.Join(cols, ", "), strings.Join(phs, ", ")))
	if err != nil {
		return 0, s.wrap("prepare insert", err)
	}
	defer stmt.Close()
	for n, row := range f.Rows {
		args := make([]any, len(f.Columns))
		copy(args, row)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, s.wrap(fmt.Sprintf("insert row %d", n+1), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, s.wrap("commit", err)
	}
	s.log.Info("table written", zap.String("table", table), zap.Int("rows", len(f.Rows)), zap.Bool("replace", replace))
	return len(f.Rows), nil
}

func (s *SQL) tableColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	q := "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position"
	if s.driver == DriverSQLite {
		q = "SELECT name FROM pragma_table_info(?)"
	}
	rows, err := tx.QueryContext(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// columnType picks a column type from the non-nil values of column i.
func (s *SQL) columnType(f *dataset.Frame, i int) string {
	numeric, boolean, seen := true, true, false
	for _, row := range f.Rows {
		if i >= len(row) || row[i] == nil {
			continue
		}
		seen = true
		switch row[i].(type) {
		case float64:
			boolean = false
		case bool:
			numeric = false
		default:
			numeric, boolean = false, false
		}
	}
	switch {
	case !seen:
		return "TEXT"
	case numeric:
		if s.driver == DriverSQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (s *SQL) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQL) wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
