package sqlslot

import (
	"strconv"
	"time"
)

type valueKind int8

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindText
	kindBlob
)

// Value is a closed variant over the SQL storage classes: integer, real,
// text view, blob and null. It is the single representation used both for
// binding query parameters and for rendering values into log lines.
//
// Text and blob values hold views over the caller's memory without copying;
// that memory must stay alive until the statement execution consuming the
// Value has returned.
type Value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
	b    []byte
}

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

// Null returns the null Value.
func Null() Value {
	return Value{kind: kindNull}
}

// Int converts any integer kind (including enum/ordinal types) to a Value.
func Int[T integer](v T) Value {
	return Value{kind: kindInt, i: int64(v)}
}

// Float converts a floating value to a Value.
func Float[T float](v T) Value {
	return Value{kind: kindFloat, f: float64(v)}
}

// Bool converts true to integer 1 and false to null. False and absence are
// deliberately not distinguished; see the package tests before relying on
// round-tripping booleans through a NOT NULL column.
func Bool(v bool) Value {
	if v {
		return Value{kind: kindInt, i: 1}
	}
	return Value{kind: kindNull}
}

// Text converts a whole string to a text Value without copying.
func Text(s string) Value {
	return Value{kind: kindText, s: s}
}

// TextRange converts the inclusive byte range s[first..last] to a text
// Value without copying.
func TextRange(s string, first, last int) Value {
	return Value{kind: kindText, s: s[first : last+1]}
}

// TextN converts length bytes of s starting at offset to a text Value
// without copying.
func TextN(s string, offset, length int) Value {
	return Value{kind: kindText, s: s[offset : offset+length]}
}

// Blob converts a whole byte slice to a blob Value without copying.
func Blob(b []byte) Value {
	return Value{kind: kindBlob, b: b}
}

// BlobN converts length bytes of b starting at offset to a blob Value
// without copying.
func BlobN(b []byte, offset, length int) Value {
	return Value{kind: kindBlob, b: b[offset : offset+length]}
}

// Time converts a time value to an integer Value holding Unix-epoch
// seconds.
func Time(t time.Time) Value {
	return Value{kind: kindInt, i: t.Unix()}
}

// NullableInt converts a possibly-absent integer: nil maps to null.
func NullableInt[T integer](p *T) Value {
	if p == nil {
		return Null()
	}
	return Int(*p)
}

// NullableFloat converts a possibly-absent float: nil maps to null.
func NullableFloat[T float](p *T) Value {
	if p == nil {
		return Null()
	}
	return Float(*p)
}

// NullableText converts a possibly-absent string: nil maps to null.
func NullableText(p *string) Value {
	if p == nil {
		return Null()
	}
	return Text(*p)
}

// NullableTime converts a possibly-absent time: nil maps to null.
func NullableTime(p *time.Time) Value {
	if p == nil {
		return Null()
	}
	return Time(*p)
}

// IsNull reports whether v holds the null variant.
func (v Value) IsNull() bool {
	return v.kind == kindNull
}

// String renders the value for log lines: decimal for numeric kinds, the
// raw text for text, a byte-for-byte string reinterpretation for blob and
// the literal token NULL for null.
func (v Value) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case kindText:
		return v.s
	case kindBlob:
		return string(v.b)
	default:
		return "NULL"
	}
}

// bind binds v at the given 1-based parameter index.
func (v Value) bind(stmt stmtHandle, index int) resultCode {
	switch v.kind {
	case kindInt:
		return sqlite3_bind_int64(stmt, index, v.i)
	case kindFloat:
		return sqlite3_bind_double(stmt, index, v.f)
	case kindText:
		return sqlite3_bind_text(stmt, index, v.s)
	case kindBlob:
		return sqlite3_bind_blob(stmt, index, v.b)
	default:
		return sqlite3_bind_null(stmt, index)
	}
}

// bindParams binds values at 1-based positional indices in argument order.
// It stops at the first non-OK result code and returns it as an error,
// leaving the remaining parameters unbound, so the first failure is never
// masked by a later one.
func bindParams(db dbHandle, stmt stmtHandle, params ...Value) error {
	for i, p := range params {
		if code := p.bind(stmt, i+1); code != SQLITE_OK {
			return codeToError(code, db)
		}
	}
	return nil
}
