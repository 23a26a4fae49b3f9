package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// ROW ACCESS — Typed reads over opaque rows
// ============================================================================
// Rows come from JSON, CSV or SQL and carry whatever scalar types those
// sources produce. Everything in the engine reads fields through these
// helpers so numeric and string handling is uniform:
//
//   Number  — float64 / ints / json.Number → float64
//   Text    — any scalar → its display string
//   Bool    — bool only
//
// Missing and nil fields read as the zero value.
// ============================================================================

// Number returns row[key] as float64, or 0 when absent or non-numeric.
func Number(r Row, key string) float64 {
	f, _ := toFloat(r[key])
	return f
}

// Text returns row[key] stringified, or "" when absent.
func Text(r Row, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Bool returns row[key] when it is a bool, false otherwise.
func Bool(r Row, key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Stringify renders a scalar the way it would appear in a group key or a
// case-insensitive substring test. Integral floats print without a fraction.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.DateOnly)
	}
	return fmt.Sprint(v)
}

// toFloat converts any numeric scalar to float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// isNumber reports whether v is a numeric scalar.
func isNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}

// project copies the named fields of r into a new row. Absent fields become nil.
func project(r Row, keys ...string) Row {
	out := make(Row, len(keys))
	for _, k := range keys {
		out[k] = r[k]
	}
	return out
}

// cloneRows returns shallow copies of rows so callers can't reach the store's maps.
func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		c := make(Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
