package casekeeper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// timestampLayout is the fixed on-disk representation for timestamps.
// Values are stored at second resolution, with no offset, implicitly UTC.
const timestampLayout = "2006-01-02 15:04:05"

// timestampPattern is matched against stored strings before any parse is
// attempted. Strings that don't match pass through untouched.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// ErrRowImmutable is returned by any attempted mutation of a Row. Rows are
// snapshots of fetched records, not live cursors - a caller holding one
// cannot write through it.
var ErrRowImmutable = errors.New("row data cannot be modified")

// encodeValue converts a native value to the flat representation a SQL row
// can hold. Timestamps are formatted with timestampLayout; every other type
// is returned unchanged.
func encodeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(timestampLayout)
	}
	return v
}

// decodeValue converts a raw column value back to a native one. Strings
// matching timestampPattern are parsed as timestamps; a matching string
// holding an impossible date (month 13, day 32, ...) returns the parse
// error. Numeric values and non-matching strings pass through unchanged.
func decodeValue(v any) (any, error) {
	switch value := v.(type) {
	case []byte:
		return decodeString(string(value))
	case string:
		return decodeString(value)
	default:
		return v, nil
	}
}

func decodeString(s string) (any, error) {
	if !timestampPattern.MatchString(s) {
		return s, nil
	}
	t, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Row is a read-only, order-preserving view of a single fetched record.
// Column values are decoded through decodeValue at construction time.
//
// Rows deliberately expose no mutation surface - Set and Delete exist only
// to return ErrRowImmutable, guarding against callers that think they're
// updating a live cursor row.
type Row struct {
	columns []string
	values  []any
	index   map[string]int
}

// newRow builds a Row from the ordered result-set column names and the
// ordered raw values of one record.
func newRow(columns []string, raw []any) (Row, error) {
	if len(columns) != len(raw) {
		return Row{}, fmt.Errorf(
			"row has %d columns but %d values", len(columns), len(raw),
		)
	}
	values := make([]any, len(raw))
	index := make(map[string]int, len(columns))
	for i, name := range columns {
		v, err := decodeValue(raw[i])
		if err != nil {
			return Row{}, fmt.Errorf("decoding column %q: %w", name, err)
		}
		values[i] = v
		index[name] = i
	}
	return Row{columns: columns, values: values, index: index}, nil
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.columns)
}

// Columns returns the ordered column names.
func (r Row) Columns() []string {
	cols := make([]string, len(r.columns))
	copy(cols, r.columns)
	return cols
}

// Has reports whether the row contains the named column.
func (r Row) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Get returns the decoded value of the named column, or nil if the column
// isn't present.
func (r Row) Get(name string) any {
	i, ok := r.index[name]
	if !ok {
		return nil
	}
	return r.values[i]
}

// Index returns the decoded value at the given column position, or nil if
// the position is out of range. Get(name) and Index(i) return the identical
// value for a column at position i named name.
func (r Row) Index(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Int returns the named column as an int64, or 0 if absent or non-numeric.
func (r Row) Int(name string) int64 {
	switch v := r.Get(name).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float returns the named column as a float64, or 0 if absent or non-numeric.
func (r Row) Float(name string) float64 {
	switch v := r.Get(name).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Text returns the named column as a string, or "" if absent or non-string.
func (r Row) Text(name string) string {
	if v, ok := r.Get(name).(string); ok {
		return v
	}
	return ""
}

// Time returns the named column as a time.Time, or the zero time if the
// column is absent or didn't decode as a timestamp.
func (r Row) Time(name string) time.Time {
	if v, ok := r.Get(name).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// Set always returns ErrRowImmutable.
func (r Row) Set(string, any) error {
	return ErrRowImmutable
}

// Delete always returns ErrRowImmutable.
func (r Row) Delete(string) error {
	return ErrRowImmutable
}

// Equal reports whether two rows hold the same ordered column/value pairs.
func (r Row) Equal(other Row) bool {
	if len(r.columns) != len(other.columns) {
		return false
	}
	for i, name := range r.columns {
		if other.columns[i] != name {
			return false
		}
		if at, ok := r.values[i].(time.Time); ok {
			bt, btOk := other.values[i].(time.Time)
			if !btOk || !at.Equal(bt) {
				return false
			}
			continue
		}
		if r.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// String renders the ordered column/value pairs for debugging.
func (r Row) String() string {
	pairs := make([]string, len(r.columns))
	for i, name := range r.columns {
		pairs[i] = fmt.Sprintf("%s=%v", name, r.values[i])
	}
	return "Row(" + strings.Join(pairs, ", ") + ")"
}
