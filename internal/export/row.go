package export

import (
	"fmt"
	"math"
	"strconv"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
)

// Row is the current row of a ReadRows scan. It is only valid inside the
// callback.
type Row struct {
	table string
	index map[string]int
	vals  []any
	dest  []any
}

func newRow(table string, columns []string) Row {
	r := Row{
		table: table,
		index: make(map[string]int, len(columns)),
		vals:  make([]any, len(columns)),
		dest:  make([]any, len(columns)),
	}
	for i, c := range columns {
		r.index[c] = i
		r.dest[i] = &r.vals[i]
	}
	return r
}

func (r Row) value(col string) (any, error) {
	i, ok := r.index[col]
	if !ok {
		return nil, converrors.NewInternalError(
			fmt.Sprintf("column %s was not selected from %s", col, r.table), nil)
	}
	return r.vals[i], nil
}

// Has reports whether col was selected.
func (r Row) Has(col string) bool {
	_, ok := r.index[col]
	return ok
}

// IsNull reports whether col is NULL or was not selected.
func (r Row) IsNull(col string) bool {
	v, err := r.value(col)
	return err != nil || v == nil
}

// Int returns col as an integer. ok is false for NULL.
func (r Row) Int(col string) (v int64, ok bool, err error) {
	raw, err := r.value(col)
	if err != nil || raw == nil {
		return 0, false, err
	}
	switch x := raw.(type) {
	case int64:
		return x, true, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false, r.mismatch(col, "INTEGER", raw)
		}
		return int64(x), true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case []byte:
		return r.parseInt(col, string(x))
	case string:
		return r.parseInt(col, x)
	default:
		return 0, false, r.mismatch(col, "INTEGER", raw)
	}
}

func (r Row) parseInt(col, s string) (int64, bool, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, r.mismatch(col, "INTEGER", s)
	}
	return n, true, nil
}

// String returns col as text. Integers are formatted in base 10. ok is
// false for NULL.
func (r Row) String(col string) (v string, ok bool, err error) {
	raw, err := r.value(col)
	if err != nil || raw == nil {
		return "", false, err
	}
	switch x := raw.(type) {
	case string:
		return x, true, nil
	case []byte:
		return string(x), true, nil
	case int64:
		return strconv.FormatInt(x, 10), true, nil
	default:
		return "", false, r.mismatch(col, "TEXT", raw)
	}
}

// IntOr returns col as an integer, or def when it is NULL, absent from the
// selection, or not an integer.
func (r Row) IntOr(col string, def int64) int64 {
	if !r.Has(col) {
		return def
	}
	v, ok, err := r.Int(col)
	if err != nil || !ok {
		return def
	}
	return v
}

func (r Row) mismatch(col, want string, got any) error {
	return converrors.NewSchemaError(converrors.CodeTypeMismatch,
		fmt.Sprintf("%s.%s: want %s, got %T", r.table, col, want, got))
}
