package sqlslot

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unsafe"
)

// Sentinels returned by the scalar-fetch primitives when the query matched
// zero rows. Engine errors still propagate as errors; the sentinel only
// covers the no-rows case.
const AbsentInt int64 = -2147483647

// AbsentFloat returns the scalar-fetch sentinel for absent floats.
func AbsentFloat() float64 { return math.NaN() }

// Value-shape errors raised at the point of column extraction.
var (
	ErrBlobSize   = errors.New("sqlslot: stored blob length does not match destination size")
	ErrTimeFormat = errors.New("sqlslot: unsupported timestamp text format")
	ErrTimeType   = errors.New("sqlslot: unsupported storage class for timestamp column")
)

// The two accepted timestamp text shapes, both UTC.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// statement pairs a prepared handle with its SQL text. Slot statements are
// reset after use; dynamic ones (prepared from a raw string for a single
// call) are finalized.
type statement struct {
	hnd     stmtHandle
	sql     string
	dynamic bool
}

func (db *DB) prepareDynamic(sql string) (statement, error) {
	if db.hnd == nil {
		return statement{}, ErrClosed
	}
	stmt, _, err := sqlite3_prepare_v2(db.hnd, sql)
	if err != nil {
		db.logError(err)
		return statement{}, err
	}
	if stmt == nil {
		err := &Error{Code: int(SQLITE_MISUSE), Message: "empty statement: " + sql}
		db.logError(err)
		return statement{}, err
	}
	return statement{hnd: stmt, sql: sql, dynamic: true}, nil
}

// release returns a statement to its idle state on every exit path: reset
// for slot statements, finalize for dynamic ones.
func (db *DB) release(st statement) {
	if st.dynamic {
		_ = sqlite3_finalize(db.hnd, st.hnd)
		return
	}
	_ = sqlite3_reset(db.hnd, st.hnd)
	sqlite3_clear_bindings(st.hnd)
}

// --- Row iteration ---

// Rows is a cursor over the result of Query. Always Close it (typically
// with defer); Close resets or finalizes the underlying statement even
// after an early break.
type Rows struct {
	db     *DB
	st     statement
	closed bool
	err    error
}

func (db *DB) queryStmt(st statement, params ...Value) (*Rows, error) {
	db.logQuery(st.sql, params)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.release(st)
		db.logError(err)
		return nil, err
	}
	return &Rows{db: db, st: st}, nil
}

// Next advances to the next result row. It returns false on completion or
// error; check Err after the loop.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	row, err := sqlite3_step(r.db.hnd, r.st.hnd)
	if err != nil {
		r.err = err
		r.db.logError(err)
		return false
	}
	return row
}

// Err returns the first error encountered while stepping.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the underlying statement. Safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.db.release(r.st)
	return r.err
}

// --- Column readers ---

func (r *Rows) ColumnCount() int {
	return sqlite3_column_count(r.st.hnd)
}

func (r *Rows) ColumnName(i int) string {
	return sqlite3_column_name(r.st.hnd, i)
}

func (r *Rows) ColumnInt64(i int) int64 {
	return sqlite3_column_int64(r.st.hnd, i)
}

func (r *Rows) ColumnInt(i int) int {
	return int(sqlite3_column_int64(r.st.hnd, i))
}

// ColumnBool reports whether the column holds a nonzero integer.
func (r *Rows) ColumnBool(i int) bool {
	return sqlite3_column_int64(r.st.hnd, i) != 0
}

func (r *Rows) ColumnFloat(i int) float64 {
	return sqlite3_column_double(r.st.hnd, i)
}

// ColumnText returns the column value as a copied string.
func (r *Rows) ColumnText(i int) string {
	return sqlite3_column_text(r.st.hnd, i)
}

// ColumnTextView returns the column value as a view over engine-owned
// memory. The view is invalidated by the next Next, Close or reset of the
// statement; copy it if it must outlive the current row.
func (r *Rows) ColumnTextView(i int) string {
	return sqlite3_column_text_view(r.st.hnd, i)
}

// ColumnBlob returns the column value as a copied byte slice.
func (r *Rows) ColumnBlob(i int) []byte {
	return sqlite3_column_blob(r.st.hnd, i)
}

// ColumnBlobInto copies the stored blob into dst. It fails with a
// size-mismatch error when the stored length differs from len(dst); it
// never silently truncates or overflows.
func (r *Rows) ColumnBlobInto(i int, dst []byte) error {
	n := sqlite3_column_bytes(r.st.hnd, i)
	if n != len(dst) {
		err := fmt.Errorf("%w: stored %d bytes, destination %d", ErrBlobSize, n, len(dst))
		r.db.logError(err)
		return err
	}
	copy(dst, sqlite3_column_blob_view(r.st.hnd, i))
	return nil
}

func (r *Rows) ColumnIsNull(i int) bool {
	return sqlite3_column_type(r.st.hnd, i) == SQLITE_NULL
}

// ColumnTime reads a timestamp, dispatching on the column's storage class:
// integers are Unix-epoch seconds, reals are epoch seconds with a
// fractional part, and text must match one of the two accepted UTC shapes
// ("2006-01-02" / "2006-01-02 15:04:05"). Any other storage class or text
// shape is an error.
func (r *Rows) ColumnTime(i int) (time.Time, error) {
	switch sqlite3_column_type(r.st.hnd, i) {
	case SQLITE_INTEGER:
		return time.Unix(sqlite3_column_int64(r.st.hnd, i), 0).UTC(), nil
	case SQLITE_FLOAT:
		sec, frac := math.Modf(sqlite3_column_double(r.st.hnd, i))
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	case SQLITE_TEXT:
		text := r.ColumnTextView(i)
		for _, layout := range timestampFormats {
			if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
				return t, nil
			}
		}
		err := fmt.Errorf("%w: %q", ErrTimeFormat, text)
		r.db.logError(err)
		return time.Time{}, err
	}
	r.db.logError(ErrTimeType)
	return time.Time{}, ErrTimeType
}

// ColumnArray reinterprets the stored blob as a sequence of fixed-width
// elements, dividing the byte length by the element size. A trailing
// remainder that does not fill a whole element is dropped; checking
// divisibility is the caller's responsibility.
func ColumnArray[T any](r *Rows, i int) []T {
	b := sqlite3_column_blob_view(r.st.hnd, i)
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(b) / size
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), n*size), b)
	return out
}

// --- Scalar fetch, existence, insert ---

func (db *DB) theInt(st statement, params ...Value) (int64, error) {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return AbsentInt, err
	}
	row, err := sqlite3_step(db.hnd, st.hnd)
	if err != nil {
		db.logError(err)
		return AbsentInt, err
	}
	if !row {
		return AbsentInt, nil
	}
	return sqlite3_column_int64(st.hnd, 0), nil
}

func (db *DB) theFloat(st statement, params ...Value) (float64, error) {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return AbsentFloat(), err
	}
	row, err := sqlite3_step(db.hnd, st.hnd)
	if err != nil {
		db.logError(err)
		return AbsentFloat(), err
	}
	if !row {
		return AbsentFloat(), nil
	}
	return sqlite3_column_double(st.hnd, 0), nil
}

func (db *DB) theString(st statement, params ...Value) (string, error) {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return "", err
	}
	row, err := sqlite3_step(db.hnd, st.hnd)
	if err != nil {
		db.logError(err)
		return "", err
	}
	if !row {
		return "", nil
	}
	return sqlite3_column_text(st.hnd, 0), nil
}

func (db *DB) exists(st statement, params ...Value) (bool, error) {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return false, err
	}
	row, err := sqlite3_step(db.hnd, st.hnd)
	if err != nil {
		db.logError(err)
		return false, err
	}
	return row, nil
}

func (db *DB) insert(st statement, params ...Value) (int64, error) {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return AbsentInt, err
	}
	row, err := sqlite3_step(db.hnd, st.hnd)
	if err != nil {
		db.logError(err)
		return AbsentInt, err
	}
	if row {
		// the statement produced a row instead of running to completion
		return AbsentInt, nil
	}
	return sqlite3_last_insert_rowid(db.hnd), nil
}

func (db *DB) execStmt(st statement, params ...Value) error {
	db.logQuery(st.sql, params)
	defer db.release(st)
	if err := bindParams(db.hnd, st.hnd, params...); err != nil {
		db.logError(err)
		return err
	}
	for {
		row, err := sqlite3_step(db.hnd, st.hnd)
		if err != nil {
			db.logError(err)
			return err
		}
		if !row {
			return nil
		}
	}
}

// --- Slot-keyed primitives ---

// Exec runs the registered statement to completion, discarding any rows.
func (s *Session) Exec(id StmtID, params ...Value) error {
	return s.db.execStmt(s.stmt(id), params...)
}

// Insert runs the registered statement to completion and returns the
// engine's last-assigned row identifier. If the statement produced a row
// instead of completing, the AbsentInt sentinel is returned.
func (s *Session) Insert(id StmtID, params ...Value) (int64, error) {
	return s.db.insert(s.stmt(id), params...)
}

// RowExists reports whether the registered statement produced at least one
// row.
func (s *Session) RowExists(id StmtID, params ...Value) (bool, error) {
	return s.db.exists(s.stmt(id), params...)
}

// QueryInt returns the first column of the first row. Zero rows yield the
// AbsentInt sentinel, not an error.
func (s *Session) QueryInt(id StmtID, params ...Value) (int64, error) {
	return s.db.theInt(s.stmt(id), params...)
}

// QueryFloat returns the first column of the first row. Zero rows yield
// NaN, not an error.
func (s *Session) QueryFloat(id StmtID, params ...Value) (float64, error) {
	return s.db.theFloat(s.stmt(id), params...)
}

// QueryText returns the first column of the first row. Zero rows yield the
// empty string, not an error.
func (s *Session) QueryText(id StmtID, params ...Value) (string, error) {
	return s.db.theString(s.stmt(id), params...)
}

// Query starts row iteration over the registered statement.
func (s *Session) Query(id StmtID, params ...Value) (*Rows, error) {
	return s.db.queryStmt(s.stmt(id), params...)
}

// --- Raw-SQL primitives ---
//
// The SQL string is prepared and finalized for this single call, which is
// slower than a registered slot and carries an injection risk if the string
// is built from untrusted input. Prefer the slot-keyed variants.

func (db *DB) ExecSQL(sql string, params ...Value) error {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return err
	}
	return db.execStmt(st, params...)
}

func (db *DB) InsertSQL(sql string, params ...Value) (int64, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return AbsentInt, err
	}
	return db.insert(st, params...)
}

func (db *DB) RowExistsSQL(sql string, params ...Value) (bool, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return false, err
	}
	return db.exists(st, params...)
}

func (db *DB) QueryIntSQL(sql string, params ...Value) (int64, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return AbsentInt, err
	}
	return db.theInt(st, params...)
}

func (db *DB) QueryFloatSQL(sql string, params ...Value) (float64, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return AbsentFloat(), err
	}
	return db.theFloat(st, params...)
}

func (db *DB) QueryTextSQL(sql string, params ...Value) (string, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return "", err
	}
	return db.theString(st, params...)
}

func (db *DB) QuerySQL(sql string, params ...Value) (*Rows, error) {
	st, err := db.prepareDynamic(sql)
	if err != nil {
		return nil, err
	}
	return db.queryStmt(st, params...)
}

// UpdateColumn builds and runs `UPDATE <table> SET <column> = ? WHERE
// <condColumn> = ?`. Table and column names containing a space character
// are rejected as a defensive measure against trivial injection; this is
// not a full identifier validator.
func (db *DB) UpdateColumn(table, column, condColumn string, value, cond Value) error {
	for _, name := range []string{table, column, condColumn} {
		if strings.ContainsRune(name, ' ') {
			err := fmt.Errorf("sqlslot: identifier %q contains a space", name)
			db.logError(err)
			return err
		}
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", table, column, condColumn)
	return db.ExecSQL(sql, value, cond)
}

// ExecRaw passes semicolon-separated SQL straight to the engine's
// batch-execute entry point. No parameters can be bound.
func (db *DB) ExecRaw(sql string) error {
	db.logQuery(sql, nil)
	if err := sqlite3_exec(db.hnd, sql); err != nil {
		db.logError(err)
		return err
	}
	return nil
}

// --- Query logging ---

// expandQuery renders sql with each ? placeholder substituted by the
// corresponding parameter, truncating every rendered parameter to maxLen
// bytes (values below 1 disable truncation). If the query holds more ?
// placeholders than params supplies, an explicit notice replaces the
// partial substitution.
func expandQuery(sql string, maxLen int, params []Value) string {
	if strings.Count(sql, "?") > len(params) {
		return "too many params to log for query: " + sql
	}
	var b strings.Builder
	b.Grow(len(sql))
	next := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != '?' {
			b.WriteByte(sql[i])
			continue
		}
		rendered := params[next].String()
		next++
		if maxLen > 0 && len(rendered) > maxLen {
			rendered = rendered[:maxLen]
		}
		b.WriteString(rendered)
	}
	return b.String()
}
