package sqlslot

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define all package level errors here

// note, that OK, ROW, DONE are statuses - so you don't need to create errors for them
var (
	ErrBusy       = errors.New("sqlslot: database is busy")
	ErrLocked     = errors.New("sqlslot: database table is locked")
	ErrReadOnly   = errors.New("sqlslot: attempt to write a readonly database")
	ErrInterrupt  = errors.New("sqlslot: operation interrupted")
	ErrMisuse     = errors.New("sqlslot: API misuse")
	ErrConstraint = errors.New("sqlslot: constraint failed")
	ErrFull       = errors.New("sqlslot: database or disk is full")
	ErrCantOpen   = errors.New("sqlslot: unable to open database file")
	ErrNotADB     = errors.New("sqlslot: not a database")
	ErrCorrupt    = errors.New("sqlslot: database is corrupt")
)

// Error is an engine result-code error. It carries the engine's message text
// and numeric result code so callers retain full error identity.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sqlslot: %s (code %d)", e.Message, e.Code)
}

// Is matches against both other *Error values and the package sentinel
// errors, by primary result code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}
	if s, ok := sentinelByCode[resultCode(e.Code&0xff)]; ok {
		return target == s
	}
	return false
}

// define all necessary constants first
type resultCode int32

// https://www.sqlite.org/rescode.html
const (
	SQLITE_OK         resultCode = 0
	SQLITE_ERROR      resultCode = 1
	SQLITE_BUSY       resultCode = 5
	SQLITE_LOCKED     resultCode = 6
	SQLITE_NOMEM      resultCode = 7
	SQLITE_READONLY   resultCode = 8
	SQLITE_INTERRUPT  resultCode = 9
	SQLITE_IOERR      resultCode = 10
	SQLITE_CORRUPT    resultCode = 11
	SQLITE_FULL       resultCode = 13
	SQLITE_CANTOPEN   resultCode = 14
	SQLITE_CONSTRAINT resultCode = 19
	SQLITE_MISUSE     resultCode = 21
	SQLITE_RANGE      resultCode = 25
	SQLITE_NOTADB     resultCode = 26
	SQLITE_ROW        resultCode = 100
	SQLITE_DONE       resultCode = 101
)

var sentinelByCode = map[resultCode]error{
	SQLITE_BUSY:       ErrBusy,
	SQLITE_LOCKED:     ErrLocked,
	SQLITE_READONLY:   ErrReadOnly,
	SQLITE_INTERRUPT:  ErrInterrupt,
	SQLITE_MISUSE:     ErrMisuse,
	SQLITE_CONSTRAINT: ErrConstraint,
	SQLITE_FULL:       ErrFull,
	SQLITE_CANTOPEN:   ErrCantOpen,
	SQLITE_NOTADB:     ErrNotADB,
	SQLITE_CORRUPT:    ErrCorrupt,
}

// Column storage classes, https://www.sqlite.org/c3ref/c_blob.html
type columnType int32

const (
	SQLITE_INTEGER columnType = 1
	SQLITE_FLOAT   columnType = 2
	SQLITE_TEXT    columnType = 3
	SQLITE_BLOB    columnType = 4
	SQLITE_NULL    columnType = 5
)

// Open flags, https://www.sqlite.org/c3ref/c_open_autoproxy.html
const (
	SQLITE_OPEN_READONLY  int32 = 0x00000001
	SQLITE_OPEN_READWRITE int32 = 0x00000002
	SQLITE_OPEN_CREATE    int32 = 0x00000004
	SQLITE_OPEN_URI       int32 = 0x00000040
	SQLITE_OPEN_NOMUTEX   int32 = 0x00008000
)

// sqlite3_db_status verbs we use.
const SQLITE_DBSTATUS_CACHE_USED int32 = 1

// SQLITE_TRANSIENT destructor: the engine makes its own copy of bound
// text/blob memory before the bind call returns.
const sqliteTransient = ^uintptr(0)

// define opaque pointers as-is and accept them as exact arguments
type sqlite3_t struct{}
type sqlite3_stmt_t struct{}
type sqlite3_backup_t struct{}

type dbHandle *sqlite3_t
type stmtHandle *sqlite3_stmt_t
type backupHandle *sqlite3_backup_t

// then, define C extern methods
var (
	c_sqlite3_libversion func() unsafe.Pointer // const char*

	c_sqlite3_open_v2 func(
		path string, // const char*
		db unsafe.Pointer, // sqlite3**
		flags int32,
		vfs uintptr, // const char* | NULL
	) resultCode

	c_sqlite3_close_v2 func(db unsafe.Pointer) resultCode

	c_sqlite3_errmsg func(db unsafe.Pointer) unsafe.Pointer // const char*
	c_sqlite3_errstr func(code int32) unsafe.Pointer        // const char*

	c_sqlite3_prepare_v2 func(
		db unsafe.Pointer, // sqlite3*
		sql unsafe.Pointer, // const char*
		nbyte int32,
		stmt unsafe.Pointer, // sqlite3_stmt**
		tail unsafe.Pointer, // const char**
	) resultCode

	c_sqlite3_bind_int64 func(stmt unsafe.Pointer, index int32, value int64) resultCode

	c_sqlite3_bind_double func(stmt unsafe.Pointer, index int32, value float64) resultCode

	c_sqlite3_bind_text func(
		stmt unsafe.Pointer,
		index int32,
		ptr unsafe.Pointer, // const char*
		nbyte int32,
		destructor uintptr, // void (*)(void*)
	) resultCode

	c_sqlite3_bind_blob func(
		stmt unsafe.Pointer,
		index int32,
		ptr unsafe.Pointer, // const void*
		nbyte int32,
		destructor uintptr,
	) resultCode

	c_sqlite3_bind_null func(stmt unsafe.Pointer, index int32) resultCode

	c_sqlite3_bind_parameter_count func(stmt unsafe.Pointer) int32
	c_sqlite3_bind_parameter_index func(stmt unsafe.Pointer, name string) int32

	c_sqlite3_step           func(stmt unsafe.Pointer) resultCode
	c_sqlite3_reset          func(stmt unsafe.Pointer) resultCode
	c_sqlite3_clear_bindings func(stmt unsafe.Pointer) resultCode
	c_sqlite3_finalize       func(stmt unsafe.Pointer) resultCode

	c_sqlite3_column_count  func(stmt unsafe.Pointer) int32
	c_sqlite3_column_type   func(stmt unsafe.Pointer, index int32) columnType
	c_sqlite3_column_int64  func(stmt unsafe.Pointer, index int32) int64
	c_sqlite3_column_double func(stmt unsafe.Pointer, index int32) float64
	c_sqlite3_column_text   func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const unsigned char*
	c_sqlite3_column_blob   func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const void*
	c_sqlite3_column_bytes  func(stmt unsafe.Pointer, index int32) int32
	c_sqlite3_column_name   func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const char*

	c_sqlite3_column_decltype func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const char* | NULL

	c_sqlite3_last_insert_rowid func(db unsafe.Pointer) int64
	c_sqlite3_changes           func(db unsafe.Pointer) int32

	c_sqlite3_exec func(
		db unsafe.Pointer,
		sql string, // const char*
		callback uintptr, // int (*)(void*,int,char**,char**) | NULL
		arg uintptr, // void* | NULL
		errmsg unsafe.Pointer, // char**
	) resultCode

	c_sqlite3_free func(ptr unsafe.Pointer)

	c_sqlite3_busy_timeout func(db unsafe.Pointer, ms int32) resultCode

	c_sqlite3_enable_load_extension func(db unsafe.Pointer, onoff int32) resultCode

	c_sqlite3_db_status func(
		db unsafe.Pointer,
		op int32,
		current unsafe.Pointer, // int*
		highwater unsafe.Pointer, // int*
		reset int32,
	) resultCode

	c_sqlite3_backup_init func(
		dst unsafe.Pointer, // sqlite3*
		dstName string, // const char*
		src unsafe.Pointer, // sqlite3*
		srcName string, // const char*
	) unsafe.Pointer // sqlite3_backup*

	c_sqlite3_backup_step      func(backup unsafe.Pointer, pages int32) resultCode
	c_sqlite3_backup_finish    func(backup unsafe.Pointer) resultCode
	c_sqlite3_backup_remaining func(backup unsafe.Pointer) int32
	c_sqlite3_backup_pagecount func(backup unsafe.Pointer) int32
)

// implement a function to register extern methods from loaded lib
// DO NOT load lib - as it will be done externally
func register_sqlite3(handle uintptr) {
	purego.RegisterLibFunc(&c_sqlite3_libversion, handle, "sqlite3_libversion")
	purego.RegisterLibFunc(&c_sqlite3_open_v2, handle, "sqlite3_open_v2")
	purego.RegisterLibFunc(&c_sqlite3_close_v2, handle, "sqlite3_close_v2")
	purego.RegisterLibFunc(&c_sqlite3_errmsg, handle, "sqlite3_errmsg")
	purego.RegisterLibFunc(&c_sqlite3_errstr, handle, "sqlite3_errstr")
	purego.RegisterLibFunc(&c_sqlite3_prepare_v2, handle, "sqlite3_prepare_v2")
	purego.RegisterLibFunc(&c_sqlite3_bind_int64, handle, "sqlite3_bind_int64")
	purego.RegisterLibFunc(&c_sqlite3_bind_double, handle, "sqlite3_bind_double")
	purego.RegisterLibFunc(&c_sqlite3_bind_text, handle, "sqlite3_bind_text")
	purego.RegisterLibFunc(&c_sqlite3_bind_blob, handle, "sqlite3_bind_blob")
	purego.RegisterLibFunc(&c_sqlite3_bind_null, handle, "sqlite3_bind_null")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_count, handle, "sqlite3_bind_parameter_count")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_index, handle, "sqlite3_bind_parameter_index")
	purego.RegisterLibFunc(&c_sqlite3_step, handle, "sqlite3_step")
	purego.RegisterLibFunc(&c_sqlite3_reset, handle, "sqlite3_reset")
	purego.RegisterLibFunc(&c_sqlite3_clear_bindings, handle, "sqlite3_clear_bindings")
	purego.RegisterLibFunc(&c_sqlite3_finalize, handle, "sqlite3_finalize")
	purego.RegisterLibFunc(&c_sqlite3_column_count, handle, "sqlite3_column_count")
	purego.RegisterLibFunc(&c_sqlite3_column_type, handle, "sqlite3_column_type")
	purego.RegisterLibFunc(&c_sqlite3_column_int64, handle, "sqlite3_column_int64")
	purego.RegisterLibFunc(&c_sqlite3_column_double, handle, "sqlite3_column_double")
	purego.RegisterLibFunc(&c_sqlite3_column_text, handle, "sqlite3_column_text")
	purego.RegisterLibFunc(&c_sqlite3_column_blob, handle, "sqlite3_column_blob")
	purego.RegisterLibFunc(&c_sqlite3_column_bytes, handle, "sqlite3_column_bytes")
	purego.RegisterLibFunc(&c_sqlite3_column_name, handle, "sqlite3_column_name")
	purego.RegisterLibFunc(&c_sqlite3_column_decltype, handle, "sqlite3_column_decltype")
	purego.RegisterLibFunc(&c_sqlite3_last_insert_rowid, handle, "sqlite3_last_insert_rowid")
	purego.RegisterLibFunc(&c_sqlite3_changes, handle, "sqlite3_changes")
	purego.RegisterLibFunc(&c_sqlite3_exec, handle, "sqlite3_exec")
	purego.RegisterLibFunc(&c_sqlite3_free, handle, "sqlite3_free")
	purego.RegisterLibFunc(&c_sqlite3_busy_timeout, handle, "sqlite3_busy_timeout")
	purego.RegisterLibFunc(&c_sqlite3_enable_load_extension, handle, "sqlite3_enable_load_extension")
	purego.RegisterLibFunc(&c_sqlite3_db_status, handle, "sqlite3_db_status")
	purego.RegisterLibFunc(&c_sqlite3_backup_init, handle, "sqlite3_backup_init")
	purego.RegisterLibFunc(&c_sqlite3_backup_step, handle, "sqlite3_backup_step")
	purego.RegisterLibFunc(&c_sqlite3_backup_finish, handle, "sqlite3_backup_finish")
	purego.RegisterLibFunc(&c_sqlite3_backup_remaining, handle, "sqlite3_backup_remaining")
	purego.RegisterLibFunc(&c_sqlite3_backup_pagecount, handle, "sqlite3_backup_pagecount")
}

// Helpers

func copyCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := 0
	for {
		b := *(*byte)(unsafe.Add(p, n))
		if b == 0 {
			break
		}
		n++
	}
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = *(*byte)(unsafe.Add(p, i))
	}
	return string(buf)
}

// codeToError translates a result code into a domain error. OK, ROW and DONE
// are statuses, not errors. When a connection handle is available the
// engine's own message text is attached, otherwise the generic errstr text
// for the code is used.
func codeToError(code resultCode, db dbHandle) error {
	switch code {
	case SQLITE_OK, SQLITE_ROW, SQLITE_DONE:
		return nil
	}
	msg := ""
	if db != nil {
		msg = copyCString(c_sqlite3_errmsg(unsafe.Pointer(db)))
	}
	if msg == "" {
		msg = copyCString(c_sqlite3_errstr(int32(code)))
	}
	return &Error{Code: int(code), Message: msg}
}

// a single NUL byte used as the backing pointer for empty text/blob binds,
// so that a zero-length value binds as '' / x'' instead of NULL
var emptyBuf = [1]byte{0}

// Go wrappers over imported C bindings

func sqlite3_libversion() string {
	return copyCString(c_sqlite3_libversion())
}

func sqlite3_open_v2(path string, flags int32) (dbHandle, error) {
	var db dbHandle
	code := c_sqlite3_open_v2(path, unsafe.Pointer(&db), flags, 0)
	if code != SQLITE_OK {
		// the engine allocates a handle even on failure so the message
		// can be read; close it before reporting
		err := codeToError(code, db)
		if db != nil {
			_ = c_sqlite3_close_v2(unsafe.Pointer(db))
		}
		return nil, err
	}
	return db, nil
}

func sqlite3_close_v2(db dbHandle) error {
	if db == nil {
		return nil
	}
	return codeToError(c_sqlite3_close_v2(unsafe.Pointer(db)), db)
}

func sqlite3_errmsg(db dbHandle) string {
	return copyCString(c_sqlite3_errmsg(unsafe.Pointer(db)))
}

// sqlite3_prepare_v2 compiles the first statement in sql. It returns the
// handle, the byte offset just past the parsed statement (for
// semicolon-separated batches), or a nil handle when sql holds nothing but
// whitespace or comments.
func sqlite3_prepare_v2(db dbHandle, sql string) (stmtHandle, int, error) {
	// NUL-terminated private copy; the engine reads it only during the call
	buf := make([]byte, len(sql)+1)
	copy(buf, sql)

	var stmt stmtHandle
	var tail uintptr
	base := unsafe.Pointer(&buf[0])
	code := c_sqlite3_prepare_v2(
		unsafe.Pointer(db),
		base,
		int32(len(buf)),
		unsafe.Pointer(&stmt),
		unsafe.Pointer(&tail),
	)
	offset := 0
	if tail != 0 {
		offset = int(tail - uintptr(base))
	}
	runtime.KeepAlive(buf)
	if code != SQLITE_OK {
		return nil, 0, codeToError(code, db)
	}
	return stmt, offset, nil
}

func sqlite3_bind_int64(stmt stmtHandle, index int, value int64) resultCode {
	return c_sqlite3_bind_int64(unsafe.Pointer(stmt), int32(index), value)
}

func sqlite3_bind_double(stmt stmtHandle, index int, value float64) resultCode {
	return c_sqlite3_bind_double(unsafe.Pointer(stmt), int32(index), value)
}

func sqlite3_bind_text(stmt stmtHandle, index int, value string) resultCode {
	ptr := unsafe.Pointer(&emptyBuf[0])
	if len(value) > 0 {
		ptr = unsafe.Pointer(unsafe.StringData(value))
	}
	code := c_sqlite3_bind_text(unsafe.Pointer(stmt), int32(index), ptr, int32(len(value)), sqliteTransient)
	runtime.KeepAlive(value)
	return code
}

func sqlite3_bind_blob(stmt stmtHandle, index int, value []byte) resultCode {
	ptr := unsafe.Pointer(&emptyBuf[0])
	if len(value) > 0 {
		ptr = unsafe.Pointer(&value[0])
	}
	code := c_sqlite3_bind_blob(unsafe.Pointer(stmt), int32(index), ptr, int32(len(value)), sqliteTransient)
	runtime.KeepAlive(value)
	return code
}

func sqlite3_bind_null(stmt stmtHandle, index int) resultCode {
	return c_sqlite3_bind_null(unsafe.Pointer(stmt), int32(index))
}

// sqlite3_step advances the statement, returning true when a new row is
// available and false on completion.
func sqlite3_step(db dbHandle, stmt stmtHandle) (bool, error) {
	code := c_sqlite3_step(unsafe.Pointer(stmt))
	switch code {
	case SQLITE_ROW:
		return true, nil
	case SQLITE_DONE:
		return false, nil
	}
	return false, codeToError(code, db)
}

func sqlite3_reset(db dbHandle, stmt stmtHandle) error {
	return codeToError(c_sqlite3_reset(unsafe.Pointer(stmt)), db)
}

func sqlite3_clear_bindings(stmt stmtHandle) {
	_ = c_sqlite3_clear_bindings(unsafe.Pointer(stmt))
}

func sqlite3_finalize(db dbHandle, stmt stmtHandle) error {
	if stmt == nil {
		return nil
	}
	return codeToError(c_sqlite3_finalize(unsafe.Pointer(stmt)), db)
}

func sqlite3_column_count(stmt stmtHandle) int {
	return int(c_sqlite3_column_count(unsafe.Pointer(stmt)))
}

func sqlite3_column_type(stmt stmtHandle, index int) columnType {
	return c_sqlite3_column_type(unsafe.Pointer(stmt), int32(index))
}

func sqlite3_column_int64(stmt stmtHandle, index int) int64 {
	return c_sqlite3_column_int64(unsafe.Pointer(stmt), int32(index))
}

func sqlite3_column_double(stmt stmtHandle, index int) float64 {
	return c_sqlite3_column_double(unsafe.Pointer(stmt), int32(index))
}

// sqlite3_column_text returns the column value as a copied Go string.
func sqlite3_column_text(stmt stmtHandle, index int) string {
	ptr := c_sqlite3_column_text(unsafe.Pointer(stmt), int32(index))
	if ptr == nil {
		return ""
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	if n <= 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}

// sqlite3_column_text_view returns the column value as a string view over
// engine-owned memory. The view is only valid until the next step, reset or
// finalize of the statement.
func sqlite3_column_text_view(stmt stmtHandle, index int) string {
	ptr := c_sqlite3_column_text(unsafe.Pointer(stmt), int32(index))
	if ptr == nil {
		return ""
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	if n <= 0 {
		return ""
	}
	return unsafe.String((*byte)(ptr), n)
}

// sqlite3_column_blob returns the column value as a copied byte slice.
func sqlite3_column_blob(stmt stmtHandle, index int) []byte {
	ptr := c_sqlite3_column_blob(unsafe.Pointer(stmt), int32(index))
	if ptr == nil {
		return nil
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(ptr), n))
	return out
}

// sqlite3_column_blob_view returns the column value as a view over
// engine-owned memory, valid until the next step, reset or finalize.
func sqlite3_column_blob_view(stmt stmtHandle, index int) []byte {
	ptr := c_sqlite3_column_blob(unsafe.Pointer(stmt), int32(index))
	if ptr == nil {
		return nil
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	if n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), n)
}

func sqlite3_column_bytes(stmt stmtHandle, index int) int {
	return int(c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_column_name(stmt stmtHandle, index int) string {
	return copyCString(c_sqlite3_column_name(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_bind_parameter_count(stmt stmtHandle) int {
	return int(c_sqlite3_bind_parameter_count(unsafe.Pointer(stmt)))
}

func sqlite3_bind_parameter_index(stmt stmtHandle, name string) int {
	return int(c_sqlite3_bind_parameter_index(unsafe.Pointer(stmt), name))
}

func sqlite3_column_decltype(stmt stmtHandle, index int) string {
	return copyCString(c_sqlite3_column_decltype(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_last_insert_rowid(db dbHandle) int64 {
	return c_sqlite3_last_insert_rowid(unsafe.Pointer(db))
}

func sqlite3_changes(db dbHandle) int {
	return int(c_sqlite3_changes(unsafe.Pointer(db)))
}

// sqlite3_exec runs a semicolon-separated batch straight through the
// engine's exec entry point.
func sqlite3_exec(db dbHandle, sql string) error {
	var errPtr unsafe.Pointer
	code := c_sqlite3_exec(unsafe.Pointer(db), sql, 0, 0, unsafe.Pointer(&errPtr))
	if code == SQLITE_OK {
		return nil
	}
	msg := copyCString(errPtr)
	if errPtr != nil {
		c_sqlite3_free(errPtr)
	}
	if msg == "" {
		return codeToError(code, db)
	}
	return &Error{Code: int(code), Message: msg}
}

func sqlite3_busy_timeout(db dbHandle, ms int) {
	_ = c_sqlite3_busy_timeout(unsafe.Pointer(db), int32(ms))
}

func sqlite3_enable_load_extension(db dbHandle, on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	_ = c_sqlite3_enable_load_extension(unsafe.Pointer(db), v)
}

func sqlite3_db_status(db dbHandle, op int32) (int, error) {
	var current, highwater int32
	code := c_sqlite3_db_status(unsafe.Pointer(db), op, unsafe.Pointer(&current), unsafe.Pointer(&highwater), 0)
	if code != SQLITE_OK {
		return 0, codeToError(code, db)
	}
	return int(current), nil
}

func sqlite3_backup_init(dst dbHandle, src dbHandle) (backupHandle, error) {
	ptr := c_sqlite3_backup_init(unsafe.Pointer(dst), "main", unsafe.Pointer(src), "main")
	if ptr == nil {
		// on failure the error state lives on the destination handle
		msg := sqlite3_errmsg(dst)
		if msg == "" {
			msg = "backup initialization failed"
		}
		return nil, &Error{Code: int(SQLITE_ERROR), Message: msg}
	}
	return backupHandle(ptr), nil
}

func sqlite3_backup_step(backup backupHandle, pages int) resultCode {
	return c_sqlite3_backup_step(unsafe.Pointer(backup), int32(pages))
}

func sqlite3_backup_finish(backup backupHandle, dst dbHandle) error {
	return codeToError(c_sqlite3_backup_finish(unsafe.Pointer(backup)), dst)
}

func sqlite3_backup_remaining(backup backupHandle) int {
	return int(c_sqlite3_backup_remaining(unsafe.Pointer(backup)))
}

func sqlite3_backup_pagecount(backup backupHandle) int {
	return int(c_sqlite3_backup_pagecount(unsafe.Pointer(backup)))
}
