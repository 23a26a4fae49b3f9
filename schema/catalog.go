package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
// DATASET CATALOG — Field metadata inferred from rows
// ============================================================================
// Describes what a dataset looks like so the generation prompt (and the
// `datasets` command) can show field names, kinds and sample values.
// The model never sees raw rows, only this summary.
//
// Classification per field:
//   1. Values → kind (number, bool, date, month, string)
//   2. Kind + cardinality → role (dimension, measure, identifier)
//   3. Pattern matching → temporal, currency code
// ============================================================================

// Field roles.
const (
	RoleDimension  = "dimension"
	RoleMeasure    = "measure"
	RoleIdentifier = "identifier"
)

// Field kinds.
const (
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindDate   = "date"
	KindMonth  = "month"
)

// FieldInfo describes one field of a dataset.
type FieldInfo struct {
	Key             string   `json:"key"`
	DisplayName     string   `json:"displayName"`
	Kind            string   `json:"kind"`
	Role            string   `json:"role"`
	SampleValues    []string `json:"sampleValues,omitempty"`
	IsTemporal      bool     `json:"isTemporal,omitempty"`
	IsCurrencyCode  bool     `json:"isCurrencyCode,omitempty"`
	CardinalityHint string   `json:"cardinalityHint"`
}

// DatasetInfo describes a dataset.
type DatasetInfo struct {
	Name      string      `json:"name"`
	RowCount  int         `json:"rowCount"`
	DateField string      `json:"dateField,omitempty"`
	Fields    []FieldInfo `json:"fields"`
}

// DescribeOptions controls catalog inference.
type DescribeOptions struct {
	MaxSamples int // sample values kept per field. Default: 8
	DateField  string
}

// Describe infers a DatasetInfo from rows. Field order follows first appearance.
func Describe(name string, rows []map[string]any, opts ...DescribeOptions) DatasetInfo {
	opt := DescribeOptions{MaxSamples: 8}
	if len(opts) > 0 {
		opt = opts[0]
		if opt.MaxSamples <= 0 {
			opt.MaxSamples = 8
		}
	}

	info := DatasetInfo{Name: name, RowCount: len(rows), DateField: opt.DateField}

	var order []string
	seen := make(map[string]bool)
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	for _, key := range order {
		info.Fields = append(info.Fields, analyzeField(key, rows, opt.MaxSamples))
	}
	return info
}

// FieldKeys returns the field keys in catalog order.
func (d DatasetInfo) FieldKeys() []string {
	keys := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		keys[i] = f.Key
	}
	return keys
}

// ============================================================================
// FIELD ANALYSIS
// ============================================================================

func analyzeField(key string, rows []map[string]any, maxSamples int) FieldInfo {
	f := FieldInfo{Key: key, DisplayName: toDisplayName(key)}

	unique := make(map[string]bool)
	var numbers, bools, dates, months, total int
	hasDecimals := false

	for _, r := range rows {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		total++
		switch x := v.(type) {
		case bool:
			bools++
			unique[strconv.FormatBool(x)] = true
		case float64:
			numbers++
			if x != float64(int64(x)) {
				hasDecimals = true
			}
			unique[strconv.FormatFloat(x, 'f', -1, 64)] = true
		case int, int64:
			numbers++
			unique[fmt.Sprint(x)] = true
		case string:
			switch {
			case datePattern.MatchString(x):
				dates++
			case monthPattern.MatchString(x):
				months++
			}
			unique[x] = true
		default:
			unique[fmt.Sprint(x)] = true
		}
	}

	f.SampleValues = collectSamples(unique, maxSamples)

	// 80% of non-null values decide the kind
	threshold := max(int(float64(total)*0.8), 1)
	switch {
	case total == 0:
		f.Kind = KindString
	case bools >= threshold:
		f.Kind = KindBool
	case dates >= threshold:
		f.Kind = KindDate
		f.IsTemporal = true
	case months >= threshold:
		f.Kind = KindMonth
		f.IsTemporal = true
	case numbers >= threshold:
		f.Kind = KindNumber
	default:
		f.Kind = KindString
		f.IsCurrencyCode = detectCurrencyCodes(f.SampleValues)
	}

	f.Role = classifyRole(f.Kind, len(unique), total, hasDecimals)

	switch {
	case len(unique) <= 10:
		f.CardinalityHint = "low"
	case len(unique) <= 100:
		f.CardinalityHint = "medium"
	default:
		f.CardinalityHint = "high"
	}
	return f
}

// classifyRole determines dimension vs measure vs identifier.
func classifyRole(kind string, uniqueCount, total int, hasDecimals bool) string {
	switch kind {
	case KindNumber:
		if hasDecimals {
			return RoleMeasure
		}
		// Few distinct integers relative to the row count read as codes (e.g. IFRS 9 stage 1-3)
		if total > 0 && uniqueCount < 20 && float64(uniqueCount)/float64(total) < 0.3 {
			return RoleDimension
		}
		return RoleMeasure
	case KindString:
		if uniqueCount == total && total > 10 {
			return RoleIdentifier
		}
		return RoleDimension
	}
	return RoleDimension
}

// ============================================================================
// PATTERN DETECTION
// ============================================================================

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// Known ISO 4217 currency codes (common subset).
var knownCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CNY": true,
	"INR": true, "SGD": true, "AUD": true, "CAD": true, "CHF": true,
	"HKD": true, "NZD": true, "SEK": true, "NOK": true, "DKK": true,
	"PLN": true, "CZK": true, "ZAR": true, "AED": true, "SAR": true,
}

// detectCurrencyCodes checks if sample values are ISO currency codes.
func detectCurrencyCodes(samples []string) bool {
	if len(samples) == 0 {
		return false
	}
	matches := 0
	for _, s := range samples {
		if knownCurrencies[strings.TrimSpace(s)] {
			matches++
		}
	}
	return float64(matches)/float64(len(samples)) >= 0.8
}

// ============================================================================
// STRING UTILITIES
// ============================================================================

// toDisplayName converts "avg_earning_assets" → "Avg Earning Assets".
func toDisplayName(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")

	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// collectSamples picks up to maxSamples values in sorted order.
func collectSamples(uniqueSet map[string]bool, maxSamples int) []string {
	samples := make([]string, 0, len(uniqueSet))
	for v := range uniqueSet {
		samples = append(samples, v)
	}
	sort.Strings(samples)

	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	return samples
}
