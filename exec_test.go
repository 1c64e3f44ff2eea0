package sqlslot

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Statement IDs for the tests, index-matched with testTemplates.
const (
	stmtUpsert StmtID = iota
	stmtSelectAll
	stmtSelectByString
	stmtCountRows
)

var testTemplates = []string{
	stmtUpsert:         "INSERT INTO example (string) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM example WHERE string = ?)",
	stmtSelectAll:      "SELECT id, string FROM example ORDER BY id",
	stmtSelectByString: "SELECT id FROM example WHERE string = ?",
	stmtCountRows:      "SELECT COUNT(*) FROM example",
}

func newTestSession(t *testing.T) (*DB, *Session) {
	t.Helper()
	db := newTestDB(t, Config{Schema: exampleSchema})
	s, err := db.Register(testTemplates)
	require.NoError(t, err)
	return db, s
}

func TestRegisteredRoundTrip(t *testing.T) {
	_, s := newTestSession(t)

	// a view into the middle of a larger buffer, bound to both
	// placeholders of the upsert
	v := TextRange("012INPUT89", 3, 7)
	require.NoError(t, s.Exec(stmtUpsert, v, v))

	rows, err := s.Query(stmtSelectAll)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	require.Equal(t, "INPUT", rows.ColumnText(1))
	require.False(t, rows.Next())
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	n, err := s.QueryInt(stmtCountRows)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestScalarSentinels(t *testing.T) {
	_, s := newTestSession(t)

	// zero rows is not an error for scalar fetches
	n, err := s.QueryInt(stmtSelectByString, Text("missing"))
	require.NoError(t, err)
	require.Equal(t, AbsentInt, n)

	f, err := s.db.QueryFloatSQL("SELECT id FROM example WHERE string = ?", Text("missing"))
	require.NoError(t, err)
	require.True(t, math.IsNaN(f))
	require.True(t, math.IsNaN(AbsentFloat()))

	str, err := s.db.QueryTextSQL("SELECT string FROM example WHERE string = ?", Text("missing"))
	require.NoError(t, err)
	require.Equal(t, "", str)
}

func TestRowExists(t *testing.T) {
	_, s := newTestSession(t)

	ok, err := s.RowExists(stmtSelectByString, Text("x"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Exec(stmtUpsert, Text("x"), Text("x")))
	ok, err = s.RowExists(stmtSelectByString, Text("x"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInsertRowID(t *testing.T) {
	_, s := newTestSession(t)

	id1, err := s.Insert(stmtUpsert, Text("a"), Text("a"))
	require.NoError(t, err)
	id2, err := s.Insert(stmtUpsert, Text("b"), Text("b"))
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	// a statement that yields a row instead of completing returns the
	// absent sentinel
	id3, err := s.db.InsertSQL("SELECT 1")
	require.NoError(t, err)
	require.Equal(t, AbsentInt, id3)
}

func TestBindErrorShortCircuit(t *testing.T) {
	db := newTestDB(t, Config{Schema: exampleSchema})

	// two placeholders, three params: the bind of index 3 fails and the
	// statement never runs
	err := db.ExecSQL("SELECT ?1, ?2", Int(1), Int(2), Int(3))
	require.Error(t, err)
}

func TestStorageClasses(t *testing.T) {
	db := newTestDB(t, Config{Schema: []string{
		"CREATE TABLE kinds (i INTEGER, f REAL, s TEXT, b BLOB, n INTEGER)",
	}})
	require.NoError(t, db.ExecSQL(
		"INSERT INTO kinds VALUES (?, ?, ?, ?, ?)",
		Int(int16(-5)), Float(float32(2.5)), Text("téxt"), Blob([]byte{1, 2, 3}), Null(),
	))

	rows, err := db.QuerySQL("SELECT i, f, s, b, n FROM kinds")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())

	require.Equal(t, 5, rows.ColumnCount())
	require.Equal(t, "i", rows.ColumnName(0))
	require.Equal(t, int64(-5), rows.ColumnInt64(0))
	require.Equal(t, -5, rows.ColumnInt(0))
	require.True(t, rows.ColumnBool(0))
	require.Equal(t, 2.5, rows.ColumnFloat(1))
	require.Equal(t, "téxt", rows.ColumnText(2))
	require.Equal(t, []byte{1, 2, 3}, rows.ColumnBlob(3))
	require.True(t, rows.ColumnIsNull(4))
	require.False(t, rows.ColumnIsNull(0))
}

func TestNaNFloatBindsAsNull(t *testing.T) {
	db := newTestDB(t, Config{Schema: []string{"CREATE TABLE floats (v REAL)"}})

	// the engine has no NaN representation and stores it as NULL; pin
	// that so float round-trips are not assumed to be bit-exact for NaN
	require.NoError(t, db.ExecSQL("INSERT INTO floats VALUES (?)", Float(math.NaN())))

	rows, err := db.QuerySQL("SELECT v, typeof(v) FROM floats")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	require.True(t, rows.ColumnIsNull(0))
	require.Equal(t, "null", rows.ColumnText(1))
}

func TestColumnTextView(t *testing.T) {
	db := newTestDB(t, Config{Schema: exampleSchema})
	require.NoError(t, db.ExecSQL("INSERT INTO example (string) VALUES (?)", Text("viewed")))

	rows, err := db.QuerySQL("SELECT string FROM example")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())

	view := rows.ColumnTextView(0)
	require.Equal(t, "viewed", view)
	// the view must be consumed before the cursor moves; copy survives
	kept := strings.Clone(view)
	require.NoError(t, rows.Close())
	require.Equal(t, "viewed", kept)
}

func TestColumnBlobInto(t *testing.T) {
	db := newTestDB(t, Config{Schema: []string{"CREATE TABLE blobs (b BLOB)"}})
	require.NoError(t, db.ExecSQL("INSERT INTO blobs VALUES (?)", Blob([]byte{9, 8, 7, 6})))

	rows, err := db.QuerySQL("SELECT b FROM blobs")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())

	dst := make([]byte, 4)
	require.NoError(t, rows.ColumnBlobInto(0, dst))
	require.Equal(t, []byte{9, 8, 7, 6}, dst)

	short := make([]byte, 3)
	require.ErrorIs(t, rows.ColumnBlobInto(0, short), ErrBlobSize)
}

func TestColumnArray(t *testing.T) {
	db := newTestDB(t, Config{Schema: []string{"CREATE TABLE blobs (b BLOB)"}})

	// 10 bytes: two int32 elements plus a 2-byte remainder that is dropped
	require.NoError(t, db.ExecSQL("INSERT INTO blobs VALUES (?)",
		Blob([]byte{1, 0, 0, 0, 2, 0, 0, 0, 0xff, 0xff})))

	rows, err := db.QuerySQL("SELECT b FROM blobs")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())

	got := ColumnArray[int32](rows, 0)
	require.Equal(t, []int32{1, 2}, got)
}

func TestColumnTime(t *testing.T) {
	db := newTestDB(t, Config{Schema: []string{"CREATE TABLE stamps (t)"}})
	want := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		value Value
		want  time.Time
	}{
		{Int(want.Unix()), want},
		{Float(float64(want.Unix()) + 0.5), want.Add(500 * time.Millisecond)},
		{Text("2024-05-17 10:30:00"), want},
		{Text("2024-05-17"), time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		require.NoError(t, db.ExecSQL("DELETE FROM stamps"))
		require.NoError(t, db.ExecSQL("INSERT INTO stamps VALUES (?)", tc.value))

		rows, err := db.QuerySQL("SELECT t FROM stamps")
		require.NoError(t, err)
		require.True(t, rows.Next())
		got, err := rows.ColumnTime(0)
		require.NoError(t, err)
		require.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		require.NoError(t, rows.Close())
	}

	// unaccepted text shape
	require.NoError(t, db.ExecSQL("DELETE FROM stamps"))
	require.NoError(t, db.ExecSQL("INSERT INTO stamps VALUES (?)", Text("17/05/2024")))
	rows, err := db.QuerySQL("SELECT t FROM stamps")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	_, err = rows.ColumnTime(0)
	require.ErrorIs(t, err, ErrTimeFormat)

	// unsupported storage class
	require.NoError(t, db.ExecSQL("DELETE FROM stamps"))
	require.NoError(t, db.ExecSQL("INSERT INTO stamps VALUES (?)", Blob([]byte{1})))
	rows2, err := db.QuerySQL("SELECT t FROM stamps")
	require.NoError(t, err)
	defer rows2.Close()
	require.True(t, rows2.Next())
	_, err = rows2.ColumnTime(0)
	require.ErrorIs(t, err, ErrTimeType)
}

func TestUpdateColumn(t *testing.T) {
	db := newTestDB(t, Config{Schema: exampleSchema})
	id, err := db.InsertSQL("INSERT INTO example (string) VALUES (?)", Text("old"))
	require.NoError(t, err)

	require.NoError(t, db.UpdateColumn("example", "string", "id", Text("new"), Int(id)))
	got, err := db.QueryTextSQL("SELECT string FROM example WHERE id = ?", Int(id))
	require.NoError(t, err)
	require.Equal(t, "new", got)

	require.Error(t, db.UpdateColumn("example; DROP TABLE example", "string", "id", Text("x"), Int(id)))
	require.Error(t, db.UpdateColumn("example", "string = 'x' WHERE 1", "id", Text("x"), Int(id)))
}

func TestExecRaw(t *testing.T) {
	db := newTestDB(t, Config{})
	require.NoError(t, db.ExecRaw(
		"CREATE TABLE a (v INTEGER); CREATE TABLE b (v INTEGER); INSERT INTO a VALUES (1)",
	))
	n, err := db.QueryIntSQL("SELECT v FROM a")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestQueryLogging(t *testing.T) {
	db := newTestDB(t, Config{Schema: exampleSchema})

	var logged []string
	db.SetLogger(func(m string) { logged = append(logged, m) }, 4)

	require.NoError(t, db.ExecSQL("INSERT INTO example (string) VALUES (?)", Text("longvalue")))
	require.Contains(t, logged, "INSERT INTO example (string) VALUES (long)")

	// errors are logged before being returned
	logged = nil
	require.Error(t, db.ExecSQL("NOT SQL AT ALL"))
	found := false
	for _, m := range logged {
		if strings.HasPrefix(m, "error: ") {
			found = true
		}
	}
	require.True(t, found)
}

func TestJSONHelpers(t *testing.T) {
	db := newTestDB(t, Config{})
	s, err := db.Register(nil)
	require.NoError(t, err)

	doc := `{"name": "slot", "count": 3}`

	name, err := s.JSONText(doc, "$.name")
	require.NoError(t, err)
	require.Equal(t, "slot", name)

	count, err := s.JSONInt(doc, "$.count")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	ok, err := s.JSONValid(doc)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.JSONValid("{broken")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEndToEndUpsertScenario(t *testing.T) {
	db := newTestDB(t, Config{Schema: exampleSchema})

	const (
		upsert StmtID = iota
		selectAll
	)
	s, err := db.Register([]string{
		upsert:    "INSERT INTO example (id, string) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET string = ?",
		selectAll: "SELECT string FROM example",
	})
	require.NoError(t, err)

	run := func(raw string) {
		view := TextRange(raw, 3, 7)
		require.NoError(t, db.Transaction(func() error {
			return s.Exec(upsert, view, view)
		}))
	}
	run("012INPUT89")

	rows, err := s.Query(selectAll)
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.Equal(t, "INPUT", rows.ColumnText(0))
	require.False(t, rows.Next())
	require.NoError(t, rows.Close())

	// second run takes the conflict-update path and still yields one row
	run("xxxOTHERyy")
	got, err := s.QueryText(selectAll)
	require.NoError(t, err)
	require.Equal(t, "OTHER", got)
}

func TestUnregisteredStatementPanics(t *testing.T) {
	_, s := newTestSession(t)
	require.Panics(t, func() { _ = s.Exec(StmtID(99)) })
	require.Panics(t, func() {
		db := s.db
		tooMany := make([]string, maxStatements+1)
		for i := range tooMany {
			tooMany[i] = "SELECT 1"
		}
		_, _ = db.Register(tooMany)
	})
}
