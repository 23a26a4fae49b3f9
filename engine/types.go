package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// ENGINE TYPES — Plans, Rows, Results
// ============================================================================
// A plan reaching the engine has already been validated. DecodePlan turns
// the validated map into one of two concrete shapes:
//
//   WellFormedPlan — dataset + filters + metrics to compute
//   ErrorPlan      — a refusal carrying a message, never executed
//
// Rows are opaque field maps read from a Store. The engine never writes
// back into a row it was handed; every result row is freshly built.
// ============================================================================

// Row is one dataset record: field name → primitive scalar.
// Stores normalise numbers to float64 and dates to YYYY-MM-DD strings.
type Row = map[string]any

// ============================================================================
// PLAN — Tagged union consumed by Execute
// ============================================================================

// Plan is either a *WellFormedPlan or an *ErrorPlan.
type Plan interface {
	PlanDomain() string
	PlanDataset() string
	isPlan()
}

// WellFormedPlan is an executable QueryPlan.
type WellFormedPlan struct {
	Domain                  string          `json:"domain"`
	Intent                  string          `json:"intent"`
	Dataset                 string          `json:"dataset"`
	Metrics                 []string        `json:"metrics"`
	Filters                 []Filter        `json:"filters"`
	TimeRange               *TimeRange      `json:"time_range,omitempty"`
	GroupBy                 []string        `json:"group_by"`
	PostProcessing          PostProcessing  `json:"post_processing"`
	ExplanationRequirements map[string]bool `json:"explanation_requirements,omitempty"`
}

func (p *WellFormedPlan) PlanDomain() string  { return p.Domain }
func (p *WellFormedPlan) PlanDataset() string { return p.Dataset }
func (*WellFormedPlan) isPlan()               {}

// HasMetric reports whether the plan requests metric id.
func (p *WellFormedPlan) HasMetric(id string) bool {
	return slices.Contains(p.Metrics, id)
}

// ErrorPlan is a refusal produced after repair was exhausted.
type ErrorPlan struct {
	Domain          string `json:"domain"`
	Dataset         string `json:"dataset"`
	Type            string `json:"type"`
	Message         string `json:"message"`
	RepairAttempted bool   `json:"repair_attempted"`
}

func (p *ErrorPlan) PlanDomain() string  { return p.Domain }
func (p *ErrorPlan) PlanDataset() string { return p.Dataset }
func (*ErrorPlan) isPlan()               {}

// Filter is a single predicate. Value is a scalar, or a list for "in".
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// TimeRange holds inclusive YYYY-MM-DD bounds.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PostProcessing carries algorithm knobs. Nil pointers mean "use the default".
type PostProcessing struct {
	FlagThreshold *float64 `json:"flag_threshold,omitempty"`
	WindowDays    *int     `json:"window_days,omitempty"`
	MinCount      *int     `json:"min_count,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"`
	SortOrder     string   `json:"sort_order,omitempty"`
}

// wirePlan mirrors the JSON shape of both plan kinds.
type wirePlan struct {
	WellFormedPlan
	Error *struct {
		Type            string `json:"type"`
		Message         string `json:"message"`
		RepairAttempted bool   `json:"repair_attempted"`
	} `json:"error,omitempty"`
}

// DecodePlan converts a validated plan map into its concrete Plan type.
func DecodePlan(m map[string]any) (Plan, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return ParsePlan(raw)
}

// ParsePlan decodes plan JSON into its concrete Plan type.
func ParsePlan(raw []byte) (Plan, error) {
	var w wirePlan
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if w.Intent == schema.IntentError {
		ep := &ErrorPlan{Domain: w.Domain, Dataset: w.Dataset, Message: "Unknown error"}
		if w.Error != nil {
			ep.Type = w.Error.Type
			ep.Message = w.Error.Message
			ep.RepairAttempted = w.Error.RepairAttempted
		}
		return ep, nil
	}

	p := w.WellFormedPlan
	return &p, nil
}

// ============================================================================
// STORE — Dataset source contract
// ============================================================================

// Threshold is one row of the cash-reporting threshold table.
type Threshold struct {
	Jurisdiction           string  `json:"jurisdiction"`
	Currency               string  `json:"currency"`
	CashReportingThreshold float64 `json:"cash_reporting_threshold"`
}

// Store provides read-only access to named datasets.
// Implementations must return rows the caller may keep; the engine
// never mutates them.
type Store interface {
	Load(ctx context.Context, name string) ([]Row, error)
	LoadThresholds(ctx context.Context) ([]Threshold, error)
}

// ============================================================================
// RESULT — Execution output
// ============================================================================

// Result is the engine's output for one plan.
type Result struct {
	Results     []Row          `json:"results"`
	Summary     map[string]any `json:"summary"`
	SafetyNotes []string       `json:"safety_notes"`
}

// Failed reports whether the result carries an error summary.
func (r *Result) Failed() bool {
	_, ok := r.Summary["error"]
	return ok
}

// ============================================================================
// GROUP — Intermediate grouping result
// ============================================================================

// Group is a set of rows sharing the same group_by values.
type Group struct {
	Key    string `json:"key"`    // "|"-joined stringified values, or "_all"
	Values []any  `json:"values"` // group_by values taken from the first row seen
	Rows   []Row  `json:"-"`
}
