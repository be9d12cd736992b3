package casekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ts := time.Date(2024, time.March, 5, 18, 30, 0, 0, loc)
	encoded := encodeValue(ts)
	assert.Equal(t, "2024-03-05 23:30:00", encoded)
}

func TestEncodeValuePassthrough(t *testing.T) {
	assert.Equal(t, int64(42), encodeValue(int64(42)))
	assert.Equal(t, "hello", encodeValue("hello"))
	assert.Equal(t, 3.5, encodeValue(3.5))
	assert.Nil(t, encodeValue(nil))
}

func TestDecodeValueTimestamp(t *testing.T) {
	v, err := decodeValue("2024-03-05 23:30:00")
	require.NoError(t, err)

	ts, ok := v.(time.Time)
	require.True(t, ok, "expected time.Time, got %T", v)
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(
		t,
		time.Date(2024, time.March, 5, 23, 30, 0, 0, time.UTC),
		ts,
	)
}

func TestDecodeValueByteSlice(t *testing.T) {
	v, err := decodeValue([]byte("2024-03-05 23:30:00"))
	require.NoError(t, err)
	_, ok := v.(time.Time)
	assert.True(t, ok)

	v, err = decodeValue([]byte("just text"))
	require.NoError(t, err)
	assert.Equal(t, "just text", v)
}

func TestDecodeValuePassthrough(t *testing.T) {
	for _, s := range []string{
		"",
		"hello",
		"2024-03-05",                  // date only
		"23:30:00",                    // time only
		"2024-03-05T23:30:00",         // wrong separator
		"2024-03-05 23:30:00.123",     // trailing fraction
		"logged 2024-03-05 23:30:00.", // embedded, not anchored
	} {
		v, err := decodeValue(s)
		require.NoError(t, err)
		assert.Equal(t, s, v, "string %q should pass through", s)
	}

	v, err := decodeValue(int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestDecodeValueImpossibleDate(t *testing.T) {
	_, err := decodeValue("2024-13-40 99:99:99")
	assert.Error(t, err)
}

func TestRowTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2023, time.July, 1, 8, 15, 30, 0, time.UTC)
	encoded := encodeValue(ts)

	row, err := newRow([]string{"CreatedAt"}, []any{encoded})
	require.NoError(t, err)
	assert.True(t, ts.Equal(row.Time("CreatedAt")))
}

func TestNewRowLengthMismatch(t *testing.T) {
	_, err := newRow([]string{"a", "b"}, []any{1})
	assert.Error(t, err)
}

func TestNewRowDecodeError(t *testing.T) {
	_, err := newRow([]string{"When"}, []any{"2024-13-40 00:00:00"})
	assert.Error(t, err)
}

func TestRowAccessors(t *testing.T) {
	row, err := newRow(
		[]string{"UserID", "Experience", "Score", "LastXP"},
		[]any{"12345", int64(250), 1.5, "2024-03-05 23:30:00"},
	)
	require.NoError(t, err)

	assert.Equal(t, 4, row.Len())
	assert.Equal(
		t, []string{"UserID", "Experience", "Score", "LastXP"}, row.Columns(),
	)

	assert.True(t, row.Has("UserID"))
	assert.False(t, row.Has("Nope"))

	assert.Equal(t, "12345", row.Text("UserID"))
	assert.Equal(t, int64(250), row.Int("Experience"))
	assert.Equal(t, 1.5, row.Float("Score"))
	assert.Equal(
		t,
		time.Date(2024, time.March, 5, 23, 30, 0, 0, time.UTC),
		row.Time("LastXP"),
	)

	// missing columns fall back to zero values
	assert.Nil(t, row.Get("Nope"))
	assert.Zero(t, row.Int("Nope"))
	assert.Zero(t, row.Float("Nope"))
	assert.Empty(t, row.Text("Nope"))
	assert.True(t, row.Time("Nope").IsZero())
}

func TestRowGetIndexEquivalence(t *testing.T) {
	row, err := newRow(
		[]string{"a", "b", "c"},
		[]any{int64(1), "two", 3.0},
	)
	require.NoError(t, err)

	for i, name := range row.Columns() {
		assert.Equal(t, row.Get(name), row.Index(i))
	}
	assert.Nil(t, row.Index(-1))
	assert.Nil(t, row.Index(3))
}

func TestRowImmutable(t *testing.T) {
	row, err := newRow([]string{"a"}, []any{int64(1)})
	require.NoError(t, err)

	assert.ErrorIs(t, row.Set("a", 2), ErrRowImmutable)
	assert.ErrorIs(t, row.Set("new", 2), ErrRowImmutable)
	assert.ErrorIs(t, row.Delete("a"), ErrRowImmutable)

	// and nothing changed underneath
	assert.Equal(t, int64(1), row.Int("a"))
	assert.False(t, row.Has("new"))
}

func TestRowEqual(t *testing.T) {
	a, err := newRow(
		[]string{"id", "when"}, []any{int64(1), "2024-03-05 23:30:00"},
	)
	require.NoError(t, err)
	b, err := newRow(
		[]string{"id", "when"}, []any{int64(1), "2024-03-05 23:30:00"},
	)
	require.NoError(t, err)
	c, err := newRow(
		[]string{"id", "when"}, []any{int64(2), "2024-03-05 23:30:00"},
	)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	d, err := newRow([]string{"id"}, []any{int64(1)})
	require.NoError(t, err)
	assert.False(t, a.Equal(d))
}

func TestRowString(t *testing.T) {
	row, err := newRow([]string{"a", "b"}, []any{int64(1), "x"})
	require.NoError(t, err)
	assert.Equal(t, "Row(a=1, b=x)", row.String())
}
