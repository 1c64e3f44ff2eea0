package sqlslot

// Transaction runs body inside an immediate write transaction, serialized
// against every other transaction on this DB by a single mutex. On a nil
// return from body the transaction is committed and the commit hook, if
// set, is invoked once before the mutex is released. On a non-nil return
// the transaction is rolled back and body's error is returned unchanged.
//
// In read-only mode no write lock can be taken, so body runs without the
// mutex and without transaction statements; writes attempted inside are
// expected to fail at the engine level.
func (db *DB) Transaction(body func() error) error {
	if db.readOnly.Load() {
		return body()
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()
	if db.beginStmt.hnd == nil {
		return ErrClosed
	}
	if err := db.execStmt(db.beginStmt); err != nil {
		return err
	}
	db.inTx.Store(true)
	if err := body(); err != nil {
		db.inTx.Store(false)
		if rbErr := db.execStmt(db.rollbackStmt); rbErr != nil {
			db.logError(rbErr)
		}
		return err
	}
	db.inTx.Store(false)
	if err := db.execStmt(db.commitStmt); err != nil {
		if rbErr := db.execStmt(db.rollbackStmt); rbErr != nil {
			db.logError(rbErr)
		}
		return err
	}
	if db.commitHook != nil {
		db.commitHook()
	}
	return nil
}

// TransactionsDisabled holds the transaction mutex while body runs but
// opens no transaction, guaranteeing that no write transaction is in
// flight anywhere on this DB for the duration. Administrative operations
// (backups, mode switches) run under this scope.
func (db *DB) TransactionsDisabled(body func() error) error {
	if db.readOnly.Load() {
		return body()
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()
	return body()
}
