package engine

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ============================================================================
// FILTERS — Time range, predicates, grouping
// ============================================================================
// Each step returns a new slice; input rows are never reordered or edited.
// Predicates apply in plan order and every one must hold. A row whose
// field is missing or nil never matches, whatever the operator.
// ============================================================================

// ErrIncomparable reports an ordered comparison between values of different kinds.
var ErrIncomparable = errors.New("incomparable values")

// ApplyTimeRange keeps rows whose dateField lies within [tr.Start, tr.End].
// Bounds compare lexically, which is chronological for ISO dates.
// A nil range returns rows unchanged.
func ApplyTimeRange(rows []Row, tr *TimeRange, dateField string) []Row {
	if tr == nil {
		return rows
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		d := Text(r, dateField)
		if tr.Start <= d && d <= tr.End {
			out = append(out, r)
		}
	}
	return out
}

// ApplyFilters narrows rows by each filter in order.
// An ordered comparison between mismatched kinds fails with ErrIncomparable.
func ApplyFilters(rows []Row, filters []Filter) ([]Row, error) {
	result := rows
	for _, f := range filters {
		next := make([]Row, 0, len(result))
		for _, r := range result {
			ok, err := Match(r[f.Field], f.Op, f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %s %s %v: %w", f.Field, f.Op, f.Value, err)
			}
			if ok {
				next = append(next, r)
			}
		}
		result = next
	}
	return result, nil
}

// Match evaluates a single predicate against a field value.
func Match(fieldVal any, op string, value any) (bool, error) {
	if fieldVal == nil {
		return false, nil
	}

	switch op {
	case "=":
		return valuesEqual(fieldVal, value), nil
	case "!=":
		return !valuesEqual(fieldVal, value), nil
	case ">", "<", ">=", "<=":
		c, err := compareOrdered(fieldVal, value)
		if err != nil {
			return false, err
		}
		switch op {
		case ">":
			return c > 0, nil
		case "<":
			return c < 0, nil
		case ">=":
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	case "in":
		return matchIn(fieldVal, value)
	case "contains":
		return strings.Contains(strings.ToLower(Stringify(fieldVal)), strings.ToLower(Stringify(value))), nil
	}
	return false, nil
}

// valuesEqual compares numbers numerically and everything else structurally.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered orders two numbers or two strings.
func compareOrdered(a, b any) (int, error) {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return cmp.Compare(fa, fb), nil
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

// matchIn tests list membership, or substring membership for a string value.
func matchIn(fieldVal, value any) (bool, error) {
	switch list := value.(type) {
	case string:
		s, ok := fieldVal.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T in string", ErrIncomparable, fieldVal)
		}
		return strings.Contains(list, s), nil
	case []any:
		for _, item := range list {
			if valuesEqual(fieldVal, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range list {
			if valuesEqual(fieldVal, item) {
				return true, nil
			}
		}
		return false, nil
	case []float64:
		for _, item := range list {
			if valuesEqual(fieldVal, item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: \"in\" needs a list, got %T", ErrIncomparable, value)
}

// ============================================================================
// GROUPING
// ============================================================================

// GroupRows partitions rows by the group_by fields. Groups come back in
// first-seen order; an empty group_by yields the single group "_all".
func GroupRows(rows []Row, groupBy []string) []Group {
	if len(groupBy) == 0 {
		return []Group{{Key: "_all", Rows: rows}}
	}

	index := make(map[string]int)
	var groups []Group
	parts := make([]string, len(groupBy))

	for _, r := range rows {
		for i, g := range groupBy {
			parts[i] = Text(r, g)
		}
		key := strings.Join(parts, "|")

		i, exists := index[key]
		if !exists {
			values := make([]any, len(groupBy))
			for j, g := range groupBy {
				values[j] = r[g]
			}
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key, Values: values})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups
}
