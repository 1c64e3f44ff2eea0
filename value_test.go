package sqlslot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoolValue(t *testing.T) {
	require.False(t, Bool(true).IsNull())
	require.Equal(t, "1", Bool(true).String())

	// false is stored as null, not 0
	require.True(t, Bool(false).IsNull())
	require.Equal(t, "NULL", Bool(false).String())
}

func TestTextRangeInclusive(t *testing.T) {
	s := "012INPUT89"
	v := TextRange(s, 3, 7)
	require.Equal(t, "INPUT", v.String())

	require.Equal(t, "INPUT", TextN(s, 3, 5).String())
	require.Equal(t, s, Text(s).String())
}

func TestBlobSlicing(t *testing.T) {
	b := []byte{0, 1, 2, 3, 4, 5}
	require.Equal(t, string([]byte{2, 3, 4}), BlobN(b, 2, 3).String())
	require.Equal(t, string(b), Blob(b).String())
}

func TestNullableValues(t *testing.T) {
	require.True(t, NullableInt[int64](nil).IsNull())
	require.True(t, NullableFloat[float64](nil).IsNull())
	require.True(t, NullableText(nil).IsNull())
	require.True(t, NullableTime(nil).IsNull())

	n := int32(7)
	require.Equal(t, "7", NullableInt(&n).String())
	s := "x"
	require.Equal(t, "x", NullableText(&s).String())
	ts := time.Unix(1700000000, 0)
	require.Equal(t, "1700000000", NullableTime(&ts).String())
}

func TestValueString(t *testing.T) {
	require.Equal(t, "-42", Int(-42).String())
	require.Equal(t, "1.5", Float(1.5).String())
	require.Equal(t, "NULL", Null().String())
	require.Equal(t, "1700000000", Time(time.Unix(1700000000, 0)).String())
}

func TestExpandQuery(t *testing.T) {
	out := expandQuery("SELECT * FROM t WHERE a = ? AND b = ?", 0, []Value{Int(1), Text("two")})
	require.Equal(t, "SELECT * FROM t WHERE a = 1 AND b = two", out)

	// per-parameter truncation
	out = expandQuery("? ?", 3, []Value{Text("abcdef"), Int(12)})
	require.Equal(t, "abc 12", out)

	// truncation disabled for values below 1
	out = expandQuery("?", -1, []Value{Text("abcdef")})
	require.Equal(t, "abcdef", out)

	// more placeholders than params
	out = expandQuery("? ? ?", 0, []Value{Int(1)})
	require.Equal(t, "too many params to log for query: ? ? ?", out)
}
