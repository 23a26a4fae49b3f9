package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// EXECUTOR — Deterministic plan execution
// ============================================================================
// Entry point: Execute(ctx, plan, opts...)
//
// Pipeline:
//   1. Error plan → empty result carrying its message
//   2. Load dataset from the Store
//   3. Apply time range on the dataset's date field, then filters
//   4. Dispatch by metric: NII/NIM → ECL → NSFR → STRUCTURING_FLAG → rows
//   5. Return Result (summary.rows_matched always set)
//
// This function never calls an AI service. All computation is local.
// Any failure, panics included, becomes a Result with summary.error.
// ============================================================================

// ErrUnknownDataset reports a dataset with no date-field mapping.
var ErrUnknownDataset = errors.New("unknown dataset")

// ExecutionError wraps a failure raised while executing a plan.
type ExecutionError struct {
	Dataset string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Dataset == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Dataset, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// dateFields maps each dataset to the field its time range applies to.
var dateFields = map[string]string{
	schema.DatasetInterest:     "date",
	schema.DatasetLoans:        "last_updated",
	schema.DatasetLiquidity:    "month",
	schema.DatasetTransactions: "date",
}

// DateField returns the time-range field for a dataset.
func DateField(dataset string) (string, bool) {
	f, ok := dateFields[dataset]
	return f, ok
}

// Safety notes attached to each metric branch.
const (
	NoteNIM           = "NIM is annualised only if data covers a full period; partial-period values shown here."
	NoteECL           = "ECL computed as simplified PD × LGD × EAD. Real IFRS 9 requires lifetime PD curves and discounting."
	NoteNSFR          = "NSFR below 100% indicates a potential breach of Basel III requirements. Regulatory action may be required."
	NoteAML           = "IMPORTANT: This is NOT a determination of wrongdoing. Flagged patterns are investigatory leads only and must be reviewed by a qualified AML analyst."
	notePassthrough   = "No specific metric computation requested; returning filtered rows."
	noteStructuringFm = "Structuring detection heuristic: cash deposits >= 90%% of reporting threshold, occurring >= %d times within a %d-day window."
)

// Execute runs a plan and returns its result. It never returns nil and
// never panics; failures come back as a Result with summary.error set.
//
// Options:
//   - WithStore(s) — dataset source (required for well-formed plans)
//   - WithLogger(l) — structured logger
//   - WithRowCap(n) — passthrough row limit (default 50)
//   - WithDefaultFlagThreshold(pct) — NSFR breach threshold (default 100)
//   - WithJurisdiction(j, c) — threshold table key (default UK/GBP)
func Execute(ctx context.Context, plan Plan, opts ...Option) (result *Result) {
	cfg := applyOptions(opts)
	log := cfg.Logger

	switch p := plan.(type) {
	case *ErrorPlan:
		log.Info("⚠️ Executor: error plan, skipping execution", "message", p.Message)
		return &Result{
			Results:     []Row{},
			Summary:     map[string]any{"error": p.Message},
			SafetyNotes: []string{},
		}
	case *WellFormedPlan:
		defer func() {
			if r := recover(); r != nil {
				result = failed(log, &ExecutionError{Dataset: p.Dataset, Err: fmt.Errorf("panic: %v", r)})
			}
		}()
		res, err := execute(ctx, p, cfg)
		if err != nil {
			return failed(log, &ExecutionError{Dataset: p.Dataset, Err: err})
		}
		return res
	}
	return failed(log, &ExecutionError{Err: fmt.Errorf("unsupported plan type %T", plan)})
}

// failed converts an execution error into the degraded result shape.
func failed(log *slog.Logger, err *ExecutionError) *Result {
	log.Warn("⚠️ Executor: execution failed", "dataset", err.Dataset, "error", err)
	return &Result{
		Results:     []Row{},
		Summary:     map[string]any{"error": "Execution error: " + err.Error()},
		SafetyNotes: []string{err.Error()},
	}
}

func execute(ctx context.Context, p *WellFormedPlan, cfg *config) (*Result, error) {
	dateField, ok := DateField(p.Dataset)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDataset, p.Dataset)
	}
	if cfg.Store == nil {
		return nil, errors.New("no dataset store configured")
	}

	rows, err := cfg.Store.Load(ctx, p.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	total := len(rows)

	rows = ApplyTimeRange(rows, p.TimeRange, dateField)
	rows, err = ApplyFilters(rows, p.Filters)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Debug("🔧 Executor: rows filtered",
		"dataset", p.Dataset, "loaded", total, "matched", len(rows), "metrics", p.Metrics)

	res := &Result{
		Results:     []Row{},
		Summary:     map[string]any{"rows_matched": len(rows)},
		SafetyNotes: []string{},
	}

	switch {
	// ── NII / NIM (Finance) ───────────────────────────────────────────────
	case p.HasMetric(schema.MetricNII) || p.HasMetric(schema.MetricNIM):
		res.Results = aggregateInterest(rows, p.GroupBy, p.HasMetric(schema.MetricNII), p.HasMetric(schema.MetricNIM))
		res.Summary["metric"] = "NII/NIM"
		res.SafetyNotes = append(res.SafetyNotes, NoteNIM)

	// ── ECL (Risk) ────────────────────────────────────────────────────────
	case p.HasMetric(schema.MetricECL):
		loans, totalECL := ComputeECL(rows)
		res.Results = loans
		res.Summary["total_ecl"] = totalECL
		res.Summary["loans_count"] = len(loans)
		res.SafetyNotes = append(res.SafetyNotes, NoteECL)

	// ── NSFR (Treasury) ───────────────────────────────────────────────────
	case p.HasMetric(schema.MetricNSFR):
		threshold := cfg.DefaultFlagThreshold
		if p.PostProcessing.FlagThreshold != nil {
			threshold = *p.PostProcessing.FlagThreshold
		}
		months := ComputeNSFR(rows, threshold)

		sortBy := p.PostProcessing.SortBy
		if sortBy == "" {
			sortBy = "month"
		}
		SortRows(months, sortBy, p.PostProcessing.SortOrder == "desc")

		breaches := 0
		for _, m := range months {
			if Bool(m, "breach") {
				breaches++
			}
		}
		res.Results = months
		res.Summary["total_months"] = len(months)
		res.Summary["breach_months"] = breaches
		res.SafetyNotes = append(res.SafetyNotes, NoteNSFR)

	// ── STRUCTURING_FLAG (AML) ────────────────────────────────────────────
	case p.HasMetric(schema.MetricStructuringFlag):
		table, err := cfg.Store.LoadThresholds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load thresholds: %w", err)
		}
		params := StructuringParams{
			Threshold:  ResolveThreshold(table, cfg.Jurisdiction, cfg.Currency, cfg.DefaultThreshold),
			WindowDays: 7,
			MinCount:   3,
		}
		if p.PostProcessing.WindowDays != nil {
			params.WindowDays = *p.PostProcessing.WindowDays
		}
		if p.PostProcessing.MinCount != nil {
			params.MinCount = *p.PostProcessing.MinCount
		}

		flagged, err := DetectStructuring(rows, params)
		if err != nil {
			return nil, err
		}
		if flagged != nil {
			res.Results = flagged
		}
		res.Summary["flagged_customers"] = len(flagged)
		res.Summary["threshold_used"] = params.Threshold
		res.Summary["window_days"] = params.WindowDays
		res.Summary["min_count"] = params.MinCount
		res.SafetyNotes = append(res.SafetyNotes,
			NoteAML,
			fmt.Sprintf(noteStructuringFm, params.MinCount, params.WindowDays),
		)

	// ── Passthrough ───────────────────────────────────────────────────────
	default:
		capped := rows[:min(len(rows), cfg.RowCap)]
		res.Results = cloneRows(capped)
		res.Summary["note"] = notePassthrough
	}

	cfg.Logger.Info("📊 Executor: plan executed",
		"domain", p.Domain, "dataset", p.Dataset, "results", len(res.Results))
	return res, nil
}
