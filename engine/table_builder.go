package engine

import (
	"slices"
	"strings"
)

// ============================================================================
// TABLE BUILDER — Produces TableData from a Result
// ============================================================================
// Result rows are maps, so column order is not implied by the data.
// Known fields follow a fixed reading order (identifiers, dimensions,
// inputs, computed metrics); anything else follows alphabetically.
// ============================================================================

// TableData defines how to render a table.
type TableData struct {
	Title   string     `json:"title"`
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Summary *Summary   `json:"summary,omitempty"`
}

// Column defines a table column.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`  // "text", "number", "bool", "list"
	Align string `json:"align"` // "left", "right", "center"
}

// Summary holds the result summary rendered as strings.
type Summary struct {
	Label  string            `json:"label"`
	Keys   []string          `json:"keys"`
	Values map[string]string `json:"values"`
}

var columnOrder = []string{
	"loan_id", "transaction_id", "customer_id",
	"date", "month", "last_updated", "window_start", "window_end",
	"region", "product", "currency",
	"stage_ifrs9", "previous_stage",
	"interest_income", "interest_expense", "avg_earning_assets",
	"pd", "lgd", "ead",
	"available_stable_funding", "required_stable_funding",
	"amount", "cash",
	"NII", "NIM_pct", "ecl", "nsfr_pct", "breach",
	"count", "total_amount", "transactions", "record_count",
}

var summaryOrder = []string{
	"error", "metric", "note", "rows_matched",
	"total_ecl", "loans_count",
	"total_months", "breach_months",
	"flagged_customers", "threshold_used", "window_days", "min_count",
}

// BuildTable lays out a Result as rows of display strings.
func BuildTable(title string, res *Result) *TableData {
	td := &TableData{Title: title, Columns: []Column{}, Rows: [][]string{}}
	if res == nil {
		return td
	}

	keys := orderKeys(collectKeys(res.Results), columnOrder)
	for _, k := range keys {
		td.Columns = append(td.Columns, columnFor(k, res.Results))
	}

	for _, r := range res.Results {
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = FormatCell(r[k])
		}
		td.Rows = append(td.Rows, row)
	}

	if len(res.Summary) > 0 {
		sumKeys := make([]string, 0, len(res.Summary))
		for k := range res.Summary {
			sumKeys = append(sumKeys, k)
		}
		s := &Summary{Label: "Summary", Keys: orderKeys(sumKeys, summaryOrder), Values: make(map[string]string, len(sumKeys))}
		for k, v := range res.Summary {
			s.Values[k] = FormatCell(v)
		}
		td.Summary = s
	}
	return td
}

// FormatCell renders one value for display. Lists join with ", ".
func FormatCell(v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, ", ")
	}
	return Stringify(v)
}

// LabelFor converts a field key to a column header: "nsfr_pct" → "Nsfr Pct".
// Upper-case metric ids are kept as they are.
func LabelFor(key string) string {
	if strings.ToUpper(key) == key {
		return key
	}
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		if strings.ToUpper(w) == w {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func collectKeys(rows []Row) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// orderKeys sorts keys by their position in preferred, unknown keys last in
// alphabetical order.
func orderKeys(keys, preferred []string) []string {
	rank := func(k string) int {
		if i := slices.Index(preferred, k); i >= 0 {
			return i
		}
		return len(preferred)
	}
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return out
}

func columnFor(key string, rows []Row) Column {
	col := Column{Key: key, Label: LabelFor(key), Type: "text", Align: "left"}
	for _, r := range rows {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch {
		case isNumber(v):
			col.Type, col.Align = "number", "right"
		case isBoolValue(v):
			col.Type, col.Align = "bool", "center"
		case isListValue(v):
			col.Type = "list"
		}
		break
	}
	return col
}

func isBoolValue(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isListValue(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	}
	return false
}
