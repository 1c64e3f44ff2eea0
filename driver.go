package sqlslot

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
)

// define all driver level errors here
var (
	ErrStmtClosed = errors.New("sqlslot: statement closed")
	ErrConnClosed = errors.New("sqlslot: connection closed")
	ErrRowsClosed = errors.New("sqlslot: rows closed")
	ErrTxDone     = errors.New("sqlslot: transaction done")
)

// DriverName is the name this package registers with database/sql.
const DriverName = "sqlslot"

const defaultBusyTimeout = 5000 // milliseconds

type sqlDriver struct{}

// sqlConn is one pooled database/sql connection with its own engine
// handle, independent of the shared-handle DB type.
type sqlConn struct {
	hnd dbHandle

	mu          sync.Mutex
	closed      bool
	busyTimeout int
}

type sqlStmt struct {
	conn      *sqlConn
	sql       string
	numInputs int
	closed    bool
}

type sqlRows struct {
	conn      *sqlConn
	stmt      stmtHandle
	columns   []string
	decltypes []string

	closed bool
	err    error
}

type sqlResult struct {
	lastInsertId int64
	rowsAffected int64
}

type sqlTx struct {
	conn *sqlConn
	done bool
}

// register driver
func init() {
	sql.Register(DriverName, &sqlDriver{})
}

// Implement sql.Driver methods
func (d *sqlDriver) Open(dsn string) (driver.Conn, error) {
	if err := loadLibrary(); err != nil {
		return nil, err
	}
	cfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return openConn(cfg)
}

type driverConfig struct {
	path        string
	busyTimeout int
	foreignKeys bool
	journalMode string
}

func openConn(cfg driverConfig) (*sqlConn, error) {
	hnd, err := sqlite3_open_v2(cfg.path, SQLITE_OPEN_READWRITE|SQLITE_OPEN_CREATE|SQLITE_OPEN_URI)
	if err != nil {
		return nil, err
	}
	timeout := cfg.busyTimeout
	if timeout == 0 {
		timeout = defaultBusyTimeout
	} else if timeout < 0 {
		timeout = 0
	}
	if timeout > 0 {
		sqlite3_busy_timeout(hnd, timeout)
	}
	if cfg.foreignKeys {
		if err := sqlite3_exec(hnd, "PRAGMA foreign_keys = ON"); err != nil {
			_ = sqlite3_close_v2(hnd)
			return nil, err
		}
	}
	if cfg.journalMode != "" {
		if err := sqlite3_exec(hnd, "PRAGMA journal_mode = "+cfg.journalMode); err != nil {
			_ = sqlite3_close_v2(hnd)
			return nil, err
		}
	}
	return &sqlConn{hnd: hnd, busyTimeout: timeout}, nil
}

// --- driver.Conn and friends ---

// Ensure sqlConn implements required interfaces.
var (
	_ driver.Conn               = (*sqlConn)(nil)
	_ driver.ConnPrepareContext = (*sqlConn)(nil)
	_ driver.ExecerContext      = (*sqlConn)(nil)
	_ driver.QueryerContext     = (*sqlConn)(nil)
	_ driver.Pinger             = (*sqlConn)(nil)
	_ driver.ConnBeginTx        = (*sqlConn)(nil)
)

func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *sqlConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// prepare once to learn the parameter count, then finalize; the text
	// is re-prepared per execution so the statement carries no state
	stmt, _, err := sqlite3_prepare_v2(c.hnd, query)
	if err != nil {
		return nil, err
	}
	num := 0
	if stmt != nil {
		num = sqlite3_bind_parameter_count(stmt)
		_ = sqlite3_finalize(c.hnd, stmt)
	}
	return &sqlStmt{conn: c, sql: query, numInputs: num}, nil
}

func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := sqlite3_close_v2(c.hnd)
	c.hnd = nil
	c.closed = true
	return err
}

func (c *sqlConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sqlConn) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := c.ExecContext(ctx, "BEGIN IMMEDIATE", nil); err != nil {
		return nil, err
	}
	return &sqlTx{conn: c}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	rows, err := c.QueryContext(ctx, "SELECT 1", nil)
	if err != nil {
		return err
	}
	return rows.Close()
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Multi-statement support for Exec-family
	var totalAffected int64
	var lastInsert int64
	offset := 0
	first := true
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rest := query[offset:]
		if strings.TrimSpace(rest) == "" {
			break
		}
		stmt, tail, err := sqlite3_prepare_v2(c.hnd, rest)
		if err != nil {
			return nil, err
		}
		offset += tail
		if stmt == nil {
			// nothing but whitespace or comments
			continue
		}
		// Bind only for the first statement
		if first && len(args) > 0 {
			if err := bindArgs(stmt, args); err != nil {
				_ = sqlite3_finalize(c.hnd, stmt)
				return nil, err
			}
		}
		err = c.executeFully(ctx, stmt)
		affected := sqlite3_changes(c.hnd)
		_ = sqlite3_finalize(c.hnd, stmt)
		if err != nil {
			return nil, err
		}
		if int64(affected) > math.MaxInt64-totalAffected {
			totalAffected = math.MaxInt64
		} else {
			totalAffected += int64(affected)
		}
		lastInsert = sqlite3_last_insert_rowid(c.hnd)
		first = false
	}
	return &sqlResult{lastInsertId: lastInsert, rowsAffected: totalAffected}, nil
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Only single-statement queries supported here
	stmt, _, err := sqlite3_prepare_v2(c.hnd, query)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, fmt.Errorf("sqlslot: empty query: %q", query)
	}
	if len(args) > 0 {
		if err := bindArgs(stmt, args); err != nil {
			_ = sqlite3_finalize(c.hnd, stmt)
			return nil, err
		}
	}
	// Return rows wrapper; do not step yet, leave cursor before first row
	return &sqlRows{conn: c, stmt: stmt}, nil
}

func (c *sqlConn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.hnd == nil {
		return ErrConnClosed
	}
	return nil
}

func (c *sqlConn) executeFully(ctx context.Context, stmt stmtHandle) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row, err := sqlite3_step(c.hnd, stmt)
		if err != nil {
			return err
		}
		if !row {
			return nil
		}
	}
}

// --- Connector Pattern ---

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithBusyTimeout sets the busy timeout in milliseconds.
// Use 0 to disable the busy handler, -1 to use the default (5000ms).
func WithBusyTimeout(ms int) ConnectorOption {
	return func(c *Connector) {
		c.busyTimeout = ms
	}
}

// Connector implements driver.Connector for programmatic configuration.
type Connector struct {
	dsn         string
	busyTimeout int // -1 = use default, 0 = disabled, >0 = custom
}

// NewConnector creates a new Connector with the given DSN and options.
func NewConnector(dsn string, opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{dsn: dsn, busyTimeout: -1}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := loadLibrary(); err != nil {
		return nil, err
	}
	cfg, err := parseDSN(c.dsn)
	if err != nil {
		return nil, err
	}
	if c.busyTimeout >= 0 {
		if c.busyTimeout == 0 {
			cfg.busyTimeout = -1
		} else {
			cfg.busyTimeout = c.busyTimeout
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return openConn(cfg)
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &sqlDriver{}
}

var _ driver.Connector = (*Connector)(nil)

// --- driver.Stmt and friends ---

// Ensure sqlStmt implements required interfaces.
var (
	_ driver.Stmt             = (*sqlStmt)(nil)
	_ driver.StmtExecContext  = (*sqlStmt)(nil)
	_ driver.StmtQueryContext = (*sqlStmt)(nil)
)

func (s *sqlStmt) Close() error {
	s.closed = true
	return nil
}

func (s *sqlStmt) NumInput() int {
	return s.numInputs
}

func (s *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return s.ExecContext(context.Background(), named)
}

func (s *sqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.ExecContext(ctx, s.sql, args)
}

func (s *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return s.QueryContext(context.Background(), named)
}

func (s *sqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.QueryContext(ctx, s.sql, args)
}

// --- driver.Rows ---

var _ driver.Rows = (*sqlRows)(nil)

func (r *sqlRows) Columns() []string {
	if r.columns != nil {
		return r.columns
	}
	n := sqlite3_column_count(r.stmt)
	names := make([]string, n)
	decltypes := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = sqlite3_column_name(r.stmt, i)
		decltypes[i] = sqlite3_column_decltype(r.stmt, i)
	}
	r.columns = names
	r.decltypes = decltypes
	return r.columns
}

func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	_ = sqlite3_finalize(r.conn.hnd, r.stmt)
	return nil
}

func (r *sqlRows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	// Ensure decltypes are populated
	_ = r.Columns()
	row, err := sqlite3_step(r.conn.hnd, r.stmt)
	if err != nil {
		r.err = err
		return err
	}
	if !row {
		return io.EOF
	}
	n := sqlite3_column_count(r.stmt)
	if len(dest) != n {
		return fmt.Errorf("sqlslot: expected %d dests, got %d", n, len(dest))
	}
	for i := 0; i < n; i++ {
		switch sqlite3_column_type(r.stmt, i) {
		case SQLITE_NULL:
			dest[i] = nil
		case SQLITE_INTEGER:
			dest[i] = sqlite3_column_int64(r.stmt, i)
		case SQLITE_FLOAT:
			dest[i] = sqlite3_column_double(r.stmt, i)
		case SQLITE_TEXT:
			text := sqlite3_column_text(r.stmt, i)
			if i < len(r.decltypes) && isTimeColumn(r.decltypes[i]) {
				if t, err := parseTimeString(text); err == nil {
					dest[i] = t
					continue
				}
			}
			dest[i] = text
		case SQLITE_BLOB:
			dest[i] = sqlite3_column_blob(r.stmt, i)
		default:
			dest[i] = nil
		}
	}
	return nil
}

// --- driver.Result ---

var _ driver.Result = (*sqlResult)(nil)

func (r *sqlResult) LastInsertId() (int64, error) {
	return r.lastInsertId, nil
}

func (r *sqlResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- driver.Tx ---

var _ driver.Tx = (*sqlTx)(nil)

func (tx *sqlTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "COMMIT", nil)
	tx.done = true
	return err
}

func (tx *sqlTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "ROLLBACK", nil)
	tx.done = true
	return err
}

// Helpers

// parseDSN supports format: <path>[?_busy_timeout=<int>&_foreign_keys=0|1&_journal_mode=<mode>]
func parseDSN(dsn string) (driverConfig, error) {
	cfg := driverConfig{path: dsn}
	qMark := strings.IndexByte(dsn, '?')
	if qMark < 0 {
		return cfg, nil
	}
	cfg.path = dsn[:qMark]
	vals, err := url.ParseQuery(dsn[qMark+1:])
	if err != nil {
		return driverConfig{}, err
	}
	if v := vals.Get("_busy_timeout"); v != "" {
		var timeout int
		if _, err := fmt.Sscanf(v, "%d", &timeout); err == nil {
			cfg.busyTimeout = timeout
		}
	}
	if v := vals.Get("_foreign_keys"); v != "" {
		cfg.foreignKeys = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "on")
	}
	if v := vals.Get("_journal_mode"); v != "" {
		switch mode := strings.ToUpper(v); mode {
		case "WAL", "TRUNCATE", "DELETE", "PERSIST", "MEMORY", "OFF":
			cfg.journalMode = mode
		default:
			return driverConfig{}, fmt.Errorf("sqlslot: unknown journal mode %q", v)
		}
	}
	return cfg, nil
}

// bindArgs binds ordered and named values to a statement.
// Named values are resolved via the engine's parameter index lookup,
// otherwise ordinal positions are used (1-based).
func bindArgs(stmt stmtHandle, args []driver.NamedValue) error {
	hasNamed := false
	for _, nv := range args {
		if nv.Name != "" {
			hasNamed = true
			break
		}
	}
	if !hasNamed {
		if want := sqlite3_bind_parameter_count(stmt); len(args) != want {
			return fmt.Errorf("sqlslot: got %d args, want %d", len(args), want)
		}
	}
	for idx, nv := range args {
		pos := idx + 1
		if nv.Name != "" {
			// the engine stores named parameters with their prefix rune
			np := sqlite3_bind_parameter_index(stmt, ":"+nv.Name)
			if np <= 0 {
				np = sqlite3_bind_parameter_index(stmt, "@"+nv.Name)
			}
			if np <= 0 {
				np = sqlite3_bind_parameter_index(stmt, "$"+nv.Name)
			}
			if np <= 0 {
				return fmt.Errorf("sqlslot: unknown named parameter %q", nv.Name)
			}
			pos = np
		} else if nv.Ordinal > 0 {
			pos = nv.Ordinal
		}
		if err := bindOne(stmt, pos, nv.Value); err != nil {
			return err
		}
	}
	return nil
}

func bindOne(stmt stmtHandle, position int, v any) error {
	bind := func(code resultCode) error {
		if code != SQLITE_OK {
			return &Error{Code: int(code), Message: fmt.Sprintf("bind parameter %d", position)}
		}
		return nil
	}
	if v == nil {
		return bind(sqlite3_bind_null(stmt, position))
	}
	switch x := v.(type) {
	case int64:
		return bind(sqlite3_bind_int64(stmt, position, x))
	case float64:
		return bind(sqlite3_bind_double(stmt, position, x))
	case bool:
		if x {
			return bind(sqlite3_bind_int64(stmt, position, 1))
		}
		return bind(sqlite3_bind_int64(stmt, position, 0))
	case []byte:
		return bind(sqlite3_bind_blob(stmt, position, x))
	case string:
		return bind(sqlite3_bind_text(stmt, position, x))
	case time.Time:
		return bind(sqlite3_bind_text(stmt, position, x.UTC().Format("2006-01-02 15:04:05")))
	default:
		// Fallback to fmt to string
		return bind(sqlite3_bind_text(stmt, position, fmt.Sprint(v)))
	}
}

// isTimeColumn checks if the column declared type indicates a time/date
// column, matching the behavior of github.com/mattn/go-sqlite3.
func isTimeColumn(decltype string) bool {
	switch strings.ToUpper(decltype) {
	case "TIMESTAMP", "DATETIME", "DATE":
		return true
	}
	return false
}

// driverTimestampFormats are the text timestamp shapes accepted when a
// column's declared type marks it as a time value. Wider than the
// ColumnTime set because database/sql clients round-trip time.Time values
// written by other drivers.
var driverTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, format := range driverTimestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
