package sqlslot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Logger receives rendered query text and error messages. Callbacks run on
// the calling goroutine, before the error is returned to the caller.
type Logger func(message string)

var (
	ErrClosed        = errors.New("sqlslot: database is closed")
	ErrBackupRunning = errors.New("sqlslot: cannot close while a backup is running")
	ErrAppID         = errors.New("sqlslot: application_id mismatch")
)

// DefaultIgnorableSchemaErrors are the error-message fragments tolerated
// during schema bootstrap, covering re-runs of CREATE TABLE and ALTER TABLE
// ADD COLUMN statements against an already-migrated file.
var DefaultIgnorableSchemaErrors = []string{
	"duplicate column name",
	"already exists",
}

// IgnoreAllSchemaErrors, when placed in Config.IgnorableSchemaErrors,
// tolerates every schema bootstrap error.
const IgnoreAllSchemaErrors = "*"

const defaultPageSize = 8192

// Config carries the open-time options. The zero value opens a
// WAL-journaled read-write database with no schema and no size cap.
type Config struct {
	// Schema statements run at open, each tolerated when its error
	// message contains one of the ignorable fragments.
	Schema []string

	// MaxSizeKB caps the database file via the engine's max_page_count
	// pragma. Zero means no cap.
	MaxSizeKB int64

	// DisableWAL selects rollback journaling (TRUNCATE, synchronous
	// FULL) instead of the default write-ahead log.
	DisableWAL bool

	// IgnorableSchemaErrors extends DefaultIgnorableSchemaErrors; the
	// single entry "*" tolerates everything.
	IgnorableSchemaErrors []string

	// ApplicationID, when nonzero, is stamped onto a fresh file and
	// checked against an existing one. A mismatch fails the open.
	ApplicationID int32
}

// DB is a single shared connection to one database file. Statement
// registration, execution and transactions all go through it; it is safe
// for concurrent use by multiple goroutines.
type DB struct {
	hnd      dbHandle
	name     string
	wal      bool
	readOnly atomic.Bool
	inTx     atomic.Bool

	txMu  sync.Mutex
	regMu sync.Mutex

	sessions []*Session

	beginStmt    statement
	commitStmt   statement
	rollbackStmt statement

	logger      Logger
	maxLogParam int
	commitHook  func()

	backups atomic.Int32
}

// Open opens (creating if absent) the database at path and applies the
// fixed pragma sequence, the application-id check and the schema
// bootstrap. The returned DB holds the file's exclusive lock until Close
// or a switch to read-only mode.
func Open(path string, cfg Config) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlslot: empty database path")
	}
	if err := loadLibrary(); err != nil {
		return nil, err
	}

	hnd, err := sqlite3_open_v2(path, SQLITE_OPEN_READWRITE|SQLITE_OPEN_CREATE|SQLITE_OPEN_URI)
	if err != nil {
		return nil, err
	}
	db := &DB{hnd: hnd, name: path, wal: !cfg.DisableWAL}

	if err := db.setup(cfg); err != nil {
		_ = sqlite3_close_v2(hnd)
		db.hnd = nil
		return nil, err
	}
	return db, nil
}

func (db *DB) setup(cfg Config) error {
	if err := db.checkApplicationID(cfg.ApplicationID); err != nil {
		return err
	}
	if err := db.applyPragmas(cfg); err != nil {
		return err
	}
	sqlite3_enable_load_extension(db.hnd, false)

	if err := db.runSchema(cfg.Schema, cfg.IgnorableSchemaErrors); err != nil {
		return err
	}
	return db.prepareControl()
}

// checkApplicationID stamps want onto a fresh file and rejects an existing
// file carrying a different id. Fail-closed: a mismatch aborts the open.
func (db *DB) checkApplicationID(want int32) error {
	if want == 0 {
		return nil
	}
	have, err := db.QueryIntSQL("PRAGMA application_id")
	if err != nil {
		return err
	}
	if have == 0 {
		return sqlite3_exec(db.hnd, fmt.Sprintf("PRAGMA application_id = %d", want))
	}
	if int32(have) != want {
		return fmt.Errorf("%w: file %q has 0x%x, want 0x%x", ErrAppID, db.name, have, want)
	}
	return nil
}

func (db *DB) applyPragmas(cfg Config) error {
	pragmas := []string{
		`PRAGMA encoding = "UTF-8"`,
		"PRAGMA foreign_keys = ON",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA page_size = %d", defaultPageSize),
	}
	// journal mode before the exclusive lock: the engine refuses to leave
	// WAL once locking_mode = EXCLUSIVE has taken hold
	if db.wal {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	} else {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = TRUNCATE",
			"PRAGMA synchronous = FULL",
		)
	}
	pragmas = append(pragmas, "PRAGMA locking_mode = EXCLUSIVE")
	if cfg.MaxSizeKB > 0 {
		pages := cfg.MaxSizeKB * 1024 / defaultPageSize
		if pages < 1 {
			pages = 1
		}
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA max_page_count = %d", pages))
	}
	for _, p := range pragmas {
		if err := sqlite3_exec(db.hnd, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// runSchema executes the bootstrap statements one at a time so that a
// tolerated failure does not abort the rest of the batch.
func (db *DB) runSchema(schema, ignorable []string) error {
	for _, stmt := range schema {
		err := sqlite3_exec(db.hnd, stmt)
		if err == nil {
			continue
		}
		if schemaErrorIgnorable(err, ignorable) {
			db.logError(fmt.Errorf("schema statement tolerated: %w", err))
			continue
		}
		return fmt.Errorf("schema bootstrap: %w", err)
	}
	return nil
}

func schemaErrorIgnorable(err error, extra []string) bool {
	msg := err.Error()
	for _, frag := range extra {
		if frag == IgnoreAllSchemaErrors {
			return true
		}
		if strings.Contains(msg, frag) {
			return true
		}
	}
	for _, frag := range DefaultIgnorableSchemaErrors {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func (db *DB) prepareControl() error {
	for _, c := range []struct {
		sql string
		dst *statement
	}{
		{"BEGIN IMMEDIATE", &db.beginStmt},
		{"COMMIT", &db.commitStmt},
		{"ROLLBACK", &db.rollbackStmt},
	} {
		stmt, _, err := sqlite3_prepare_v2(db.hnd, c.sql)
		if err != nil {
			return err
		}
		*c.dst = statement{hnd: stmt, sql: c.sql}
	}
	return nil
}

// Close finalizes every registered statement and releases the connection.
// Closing while a backup of this DB is still stepping is an error; a
// second Close is a logged no-op.
func (db *DB) Close() error {
	if db.backups.Load() > 0 {
		db.logError(ErrBackupRunning)
		return ErrBackupRunning
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.regMu.Lock()
	defer db.regMu.Unlock()

	if db.hnd == nil {
		db.logError(ErrClosed)
		return nil
	}
	for _, s := range db.sessions {
		s.finalizeAll()
	}
	db.sessions = nil
	for _, st := range []stmtHandle{db.beginStmt.hnd, db.commitStmt.hnd, db.rollbackStmt.hnd} {
		_ = sqlite3_finalize(db.hnd, st)
	}
	db.beginStmt, db.commitStmt, db.rollbackStmt = statement{}, statement{}, statement{}

	err := sqlite3_close_v2(db.hnd)
	db.hnd = nil
	return err
}

// SetReadOnly switches the connection between the exclusive read-write
// mode set at open and a shared read-only mode (normal locking, persistent
// journal, query_only). The switch runs with no transaction in flight.
func (db *DB) SetReadOnly(ro bool) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	if ro == db.readOnly.Load() {
		return nil
	}
	if db.hnd == nil {
		return ErrClosed
	}
	if ro {
		// the engine refuses to leave WAL under an exclusive lock, so
		// drop the lock first; locking_mode takes effect at the next
		// access, hence the touch read
		if err := db.execPragmas(
			"PRAGMA locking_mode = NORMAL",
			"SELECT count(*) FROM sqlite_master",
			"PRAGMA journal_mode = PERSIST",
			"PRAGMA query_only = ON",
		); err != nil {
			return err
		}
		db.readOnly.Store(true)
		return nil
	}
	// leaving read-only mode: drop query_only first so the other pragmas
	// stick
	journal, durability := "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"
	if !db.wal {
		journal, durability = "PRAGMA journal_mode = TRUNCATE", "PRAGMA synchronous = FULL"
	}
	if err := db.execPragmas(
		"PRAGMA query_only = OFF",
		journal,
		durability,
		"PRAGMA locking_mode = EXCLUSIVE",
	); err != nil {
		return err
	}
	db.readOnly.Store(false)
	return nil
}

// ReadOnly reports whether the connection is in read-only mode.
func (db *DB) ReadOnly() bool {
	return db.readOnly.Load()
}

// InTransaction reports whether a write transaction is currently in
// flight. Diagnostic only; by the time the caller acts on it the answer
// may already be stale.
func (db *DB) InTransaction() bool {
	return db.inTx.Load()
}

func (db *DB) execPragmas(pragmas ...string) error {
	for _, p := range pragmas {
		if err := sqlite3_exec(db.hnd, p); err != nil {
			db.logError(err)
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Optimize adjusts page size and WAL autocheckpoint interval. A changed
// page size only takes effect after the next VACUUM.
func (db *DB) Optimize(pageSize, walAutocheckpoint int) error {
	return db.TransactionsDisabled(func() error {
		if db.hnd == nil {
			return ErrClosed
		}
		return db.execPragmas(
			fmt.Sprintf("PRAGMA page_size = %d", pageSize),
			fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", walAutocheckpoint),
		)
	})
}

// Attach mounts the database at path under alias and runs its schema
// bootstrap with the default tolerated errors.
func (db *DB) Attach(path, alias string, schema []string) error {
	if strings.ContainsRune(alias, ' ') {
		err := fmt.Errorf("sqlslot: alias %q contains a space", alias)
		db.logError(err)
		return err
	}
	return db.TransactionsDisabled(func() error {
		if db.hnd == nil {
			return ErrClosed
		}
		if err := db.ExecSQL("ATTACH DATABASE ? AS "+alias, Text(path)); err != nil {
			return err
		}
		return db.runSchema(schema, nil)
	})
}

// SetLogger installs fn as the query and error logger. Every rendered
// query parameter is truncated to maxParamLen bytes; values below 1
// disable truncation. A nil fn disables logging.
func (db *DB) SetLogger(fn Logger, maxParamLen int) {
	db.logger = fn
	db.maxLogParam = maxParamLen
}

// SetCommitHook installs fn to run once after every successful commit,
// before the transaction mutex is released.
func (db *DB) SetCommitHook(fn func()) {
	db.commitHook = fn
}

func (db *DB) logQuery(sql string, params []Value) {
	if db.logger == nil {
		return
	}
	db.logger(expandQuery(sql, db.maxLogParam, params))
}

func (db *DB) logError(err error) {
	if db.logger == nil || err == nil {
		return
	}
	db.logger("error: " + err.Error())
}

// MemoryUsed returns the bytes of heap held by this connection's page
// cache.
func (db *DB) MemoryUsed() (int64, error) {
	n, err := sqlite3_db_status(db.hnd, SQLITE_DBSTATUS_CACHE_USED)
	if err != nil {
		db.logError(err)
		return 0, err
	}
	return int64(n), nil
}

// Changes returns the number of rows touched by the most recent statement.
func (db *DB) Changes() int {
	return sqlite3_changes(db.hnd)
}

// LastInsertRowID returns the rowid assigned by the most recent insert.
func (db *DB) LastInsertRowID() int64 {
	return sqlite3_last_insert_rowid(db.hnd)
}

// Path returns the file path the DB was opened with.
func (db *DB) Path() string {
	return db.name
}

// Version returns the engine's library version string.
func Version() (string, error) {
	if err := loadLibrary(); err != nil {
		return "", err
	}
	return sqlite3_libversion(), nil
}
