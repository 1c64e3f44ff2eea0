package sqlslot

import "fmt"

// StmtID identifies one registered statement template. Callers define their
// own enumeration starting at 0 and pass the matching template list to
// Register; the ID is the index into that list.
type StmtID int

// Fixed capacity bounds. Exceeding either is a caller contract violation
// (a programming bug), reported by panic rather than by error.
const (
	maxSessions   = 64
	maxStatements = 128
)

// Engine helper statements carried by every session in a second slot table,
// alongside the caller's registered templates.
type helperID int

const (
	helperJSONExtract helperID = iota
	helperJSONValid
	helperCount
)

var helperTemplates = [helperCount]string{
	helperJSONExtract: "SELECT json_extract(?1, ?2)",
	helperJSONValid:   "SELECT json_valid(?1)",
}

// Session holds one goroutine's prepared statement slots. Every goroutine
// that issues statement-keyed operations must obtain its own Session from
// Register before use; a Session must not be shared between goroutines.
type Session struct {
	db      *DB
	slots   []stmtHandle
	sqls    []string
	helpers [helperCount]stmtHandle
}

// Register prepares the given statement templates and returns the Session
// holding their slots. It is the one-time per-goroutine registration entry
// point; registration is serialized per database because it mutates the
// shared session bookkeeping used by Close.
func (db *DB) Register(templates []string) (*Session, error) {
	if len(templates) > maxStatements {
		panic(fmt.Sprintf("sqlslot: %d statement templates exceed the capacity bound %d", len(templates), maxStatements))
	}

	db.regMu.Lock()
	defer db.regMu.Unlock()

	if db.hnd == nil {
		return nil, ErrClosed
	}
	if len(db.sessions) >= maxSessions {
		panic(fmt.Sprintf("sqlslot: session capacity bound %d exceeded", maxSessions))
	}

	s := &Session{
		db:    db,
		slots: make([]stmtHandle, len(templates)),
		sqls:  make([]string, len(templates)),
	}
	for i, sql := range templates {
		stmt, _, err := sqlite3_prepare_v2(db.hnd, sql)
		if err != nil {
			s.finalizeAll()
			db.logError(err)
			return nil, err
		}
		s.slots[i] = stmt
		s.sqls[i] = sql
	}
	for i, sql := range helperTemplates {
		stmt, _, err := sqlite3_prepare_v2(db.hnd, sql)
		if err != nil {
			s.finalizeAll()
			db.logError(err)
			return nil, err
		}
		s.helpers[i] = stmt
	}

	db.sessions = append(db.sessions, s)
	return s, nil
}

// stmt resolves a registered slot. Resolving an ID that was never
// registered is a fatal precondition failure.
func (s *Session) stmt(id StmtID) statement {
	if int(id) < 0 || int(id) >= len(s.slots) || s.slots[id] == nil {
		panic(fmt.Sprintf("sqlslot: statement %d is not registered in this session", id))
	}
	return statement{hnd: s.slots[id], sql: s.sqls[id]}
}

func (s *Session) helper(id helperID) statement {
	if s.helpers[id] == nil {
		panic(fmt.Sprintf("sqlslot: helper statement %d is not registered in this session", id))
	}
	return statement{hnd: s.helpers[id], sql: helperTemplates[id]}
}

// finalizeAll releases every slot in both tables. Called with regMu held,
// either on a failed registration or from Close.
func (s *Session) finalizeAll() {
	for i, stmt := range s.slots {
		if stmt != nil {
			_ = sqlite3_finalize(s.db.hnd, stmt)
			s.slots[i] = nil
		}
	}
	for i, stmt := range s.helpers {
		if stmt != nil {
			_ = sqlite3_finalize(s.db.hnd, stmt)
			s.helpers[i] = nil
		}
	}
}

// JSONText extracts the value at path from the JSON document doc as text.
func (s *Session) JSONText(doc, path string) (string, error) {
	return s.db.theString(s.helper(helperJSONExtract), Text(doc), Text(path))
}

// JSONInt extracts the value at path from the JSON document doc as an
// integer. Zero rows yield the AbsentInt sentinel like any scalar fetch.
func (s *Session) JSONInt(doc, path string) (int64, error) {
	return s.db.theInt(s.helper(helperJSONExtract), Text(doc), Text(path))
}

// JSONValid reports whether doc is well-formed JSON.
func (s *Session) JSONValid(doc string) (bool, error) {
	n, err := s.db.theInt(s.helper(helperJSONValid), Text(doc))
	return n == 1, err
}
