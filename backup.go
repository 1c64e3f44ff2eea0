package sqlslot

import "errors"

var ErrBackupDone = errors.New("sqlslot: backup already finished")

// Backup is an incremental online copy of a DB into a fresh destination
// file. Step it in chunks from a single goroutine; the source DB stays
// usable between steps.
type Backup struct {
	src  *DB
	dst  dbHandle
	hnd  backupHandle
	done bool

	// refreshed after every step so they stay readable once the engine
	// handle has been finished
	remaining int
	pageCount int
}

// InitBackup opens destPath and starts an online backup of db into it. The
// destination is created read-write; the initiation runs with no
// transaction in flight on the source.
func (db *DB) InitBackup(destPath string) (*Backup, error) {
	if destPath == "" {
		return nil, errors.New("sqlslot: empty backup destination path")
	}
	var b *Backup
	err := db.TransactionsDisabled(func() error {
		if db.hnd == nil {
			return ErrClosed
		}
		dst, err := sqlite3_open_v2(destPath, SQLITE_OPEN_READWRITE|SQLITE_OPEN_CREATE|SQLITE_OPEN_URI)
		if err != nil {
			db.logError(err)
			return err
		}
		hnd, err := sqlite3_backup_init(dst, db.hnd)
		if err != nil {
			_ = sqlite3_close_v2(dst)
			db.logError(err)
			return err
		}
		b = &Backup{src: db, dst: dst, hnd: hnd}
		db.backups.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Step copies up to pages pages (negative copies everything left). It
// returns true once the backup is complete and finished. A busy or locked
// source is not an error; Step returns (false, nil) and should simply be
// called again later.
func (b *Backup) Step(pages int) (bool, error) {
	if b.done {
		return false, ErrBackupDone
	}
	code := sqlite3_backup_step(b.hnd, pages)
	b.remaining = sqlite3_backup_remaining(b.hnd)
	b.pageCount = sqlite3_backup_pagecount(b.hnd)
	switch code {
	case SQLITE_OK:
		return false, nil
	case SQLITE_DONE:
		return true, b.finish()
	case SQLITE_BUSY, SQLITE_LOCKED:
		return false, nil
	default:
		err := codeToError(code, b.dst)
		b.src.logError(err)
		if ferr := b.finish(); ferr != nil {
			b.src.logError(ferr)
		}
		return false, err
	}
}

// Remaining returns the number of pages still to be copied as of the last
// Step.
func (b *Backup) Remaining() int {
	return b.remaining
}

// PageCount returns the total page count of the source as of the last
// Step.
func (b *Backup) PageCount() int {
	return b.pageCount
}

// Cancel abandons an unfinished backup, releasing the destination file.
// Canceling a finished backup is a no-op.
func (b *Backup) Cancel() error {
	if b.done {
		return nil
	}
	return b.finish()
}

func (b *Backup) finish() error {
	b.done = true
	b.src.backups.Add(-1)
	err := sqlite3_backup_finish(b.hnd, b.dst)
	if cerr := sqlite3_close_v2(b.dst); err == nil {
		err = cerr
	}
	return err
}
