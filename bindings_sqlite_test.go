package sqlslot

import (
	"bytes"
	"errors"
	"testing"
)

// helper to require a loaded library for integration tests
func requireLibLoaded(t *testing.T) {
	t.Helper()
	if !libraryLoaded() {
		t.Skip("SQLite shared library is not loadable; set SQLSLOT_LIB to the shared library to run integration tests")
	}
}

func openMemoryHandle(t *testing.T) dbHandle {
	t.Helper()
	requireLibLoaded(t)
	hnd, err := sqlite3_open_v2(":memory:", SQLITE_OPEN_READWRITE|SQLITE_OPEN_CREATE|SQLITE_OPEN_URI)
	if err != nil {
		t.Fatalf("open_v2 failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlite3_close_v2(hnd) })
	return hnd
}

func TestBindingsRoundtrip(t *testing.T) {
	hnd := openMemoryHandle(t)

	if err := sqlite3_exec(hnd, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, val REAL, data BLOB)"); err != nil {
		t.Fatalf("exec create table failed: %v", err)
	}

	stmt, _, err := sqlite3_prepare_v2(hnd, "INSERT INTO t (name, val, data) VALUES (?, ?, ?)")
	if err != nil {
		t.Fatalf("prepare insert failed: %v", err)
	}
	if code := sqlite3_bind_text(stmt, 1, "alpha"); code != SQLITE_OK {
		t.Fatalf("bind text failed: %v", code)
	}
	if code := sqlite3_bind_double(stmt, 2, 1.25); code != SQLITE_OK {
		t.Fatalf("bind double failed: %v", code)
	}
	if code := sqlite3_bind_blob(stmt, 3, []byte{1, 2, 3}); code != SQLITE_OK {
		t.Fatalf("bind blob failed: %v", code)
	}
	if row, err := sqlite3_step(hnd, stmt); err != nil || row {
		t.Fatalf("step insert: row=%v err=%v", row, err)
	}
	if err := sqlite3_finalize(hnd, stmt); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if got := sqlite3_last_insert_rowid(hnd); got != 1 {
		t.Fatalf("last_insert_rowid = %d, want 1", got)
	}

	stmt, _, err = sqlite3_prepare_v2(hnd, "SELECT name, val, data FROM t")
	if err != nil {
		t.Fatalf("prepare select failed: %v", err)
	}
	defer sqlite3_finalize(hnd, stmt)
	row, err := sqlite3_step(hnd, stmt)
	if err != nil || !row {
		t.Fatalf("step select: row=%v err=%v", row, err)
	}
	if got := sqlite3_column_text(stmt, 0); got != "alpha" {
		t.Fatalf("column_text = %q", got)
	}
	if got := sqlite3_column_double(stmt, 1); got != 1.25 {
		t.Fatalf("column_double = %v", got)
	}
	if got := sqlite3_column_blob(stmt, 2); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("column_blob = %v", got)
	}
}

func TestBindingsEmptyTextAndBlob(t *testing.T) {
	hnd := openMemoryHandle(t)

	stmt, _, err := sqlite3_prepare_v2(hnd, "SELECT typeof(?), typeof(?)")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer sqlite3_finalize(hnd, stmt)

	// zero-length values must bind as '' / x'', not NULL
	if code := sqlite3_bind_text(stmt, 1, ""); code != SQLITE_OK {
		t.Fatalf("bind empty text failed: %v", code)
	}
	if code := sqlite3_bind_blob(stmt, 2, nil); code != SQLITE_OK {
		t.Fatalf("bind empty blob failed: %v", code)
	}
	if row, err := sqlite3_step(hnd, stmt); err != nil || !row {
		t.Fatalf("step: row=%v err=%v", row, err)
	}
	if got := sqlite3_column_text(stmt, 0); got != "text" {
		t.Fatalf("typeof empty text = %q", got)
	}
	if got := sqlite3_column_text(stmt, 1); got != "blob" {
		t.Fatalf("typeof empty blob = %q", got)
	}
}

func TestBindingsTail(t *testing.T) {
	hnd := openMemoryHandle(t)

	sql := "SELECT 1; SELECT 2"
	stmt, offset, err := sqlite3_prepare_v2(hnd, sql)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	_ = sqlite3_finalize(hnd, stmt)
	if offset <= 0 || offset > len(sql) {
		t.Fatalf("tail offset = %d", offset)
	}
	if rest := sql[offset:]; rest != " SELECT 2" {
		t.Fatalf("tail = %q", rest)
	}
}

func TestErrorTranslation(t *testing.T) {
	hnd := openMemoryHandle(t)

	_, _, err := sqlite3_prepare_v2(hnd, "NOT A STATEMENT")
	if err == nil {
		t.Fatal("expected prepare error")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error type = %T", err)
	}
	if e.Code != int(SQLITE_ERROR) || e.Message == "" {
		t.Fatalf("error = %+v", e)
	}

	// sentinel matching by result code
	if err := sqlite3_exec(hnd, "CREATE TABLE u (v INTEGER NOT NULL)"); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	err = sqlite3_exec(hnd, "INSERT INTO u VALUES (NULL)")
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected constraint error, got %v", err)
	}
}

func TestDbStatus(t *testing.T) {
	hnd := openMemoryHandle(t)

	if err := sqlite3_exec(hnd, "CREATE TABLE t (v INTEGER); INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	used, err := sqlite3_db_status(hnd, SQLITE_DBSTATUS_CACHE_USED)
	if err != nil {
		t.Fatalf("db_status failed: %v", err)
	}
	if used <= 0 {
		t.Fatalf("cache used = %d", used)
	}
}
