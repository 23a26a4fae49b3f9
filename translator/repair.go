package translator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// REPAIR LOOP — Always hand back a schema-valid plan
// ============================================================================
//   validate(raw) ok                       → plan, retries 0
//   repair attempt n ok (n ≤ MaxRetries)   → plan, retries n
//   all attempts invalid                   → error plan, retries MaxRetries
//
// The error plan keeps the domain and dataset of the ORIGINAL raw text when
// they can be read from it. Attempts are strictly sequential; each one sees
// the previous attempt's text and errors.
// ============================================================================

// MaxRetries is the number of repair attempts after the first validation.
const MaxRetries = 2

// RepairLoop validates candidate plans and asks a Completer to fix them.
type RepairLoop struct {
	validator *schema.Validator
	completer Completer
	logger    *slog.Logger
}

// NewRepairLoop builds a loop. A nil logger uses slog.Default().
func NewRepairLoop(v *schema.Validator, c Completer, logger *slog.Logger) *RepairLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairLoop{validator: v, completer: c, logger: logger}
}

// Run returns a plan that always validates, the errors still outstanding
// when repair gave up (empty on success) and the number of repair attempts.
// promptContext is only logged.
func (l *RepairLoop) Run(ctx context.Context, raw, promptContext string) (map[string]any, []schema.ValidationError, int) {
	valid, plan, errs := ParseAndValidate(raw, l.validator)
	if valid {
		l.logger.Debug("✅ RepairLoop: plan valid", "retries", 0)
		return plan, nil, 0
	}

	l.logger.Info("🔧 RepairLoop: plan invalid, repairing",
		"errors", len(errs), "prompt", truncate(promptContext, 80))

	doc := l.validator.Document()
	current, currentErrs := raw, errs

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		msgs := BuildRepairMessages(doc, current, currentErrs)
		repaired := l.completer.Complete(ctx, msgs, RepairTemperature, MaxTokens)

		valid, plan, errs = ParseAndValidate(repaired, l.validator)
		if valid {
			l.logger.Info("✅ RepairLoop: plan repaired", "attempt", attempt)
			return plan, nil, attempt
		}

		l.logger.Debug("⚠️ RepairLoop: repair attempt still invalid", "attempt", attempt, "errors", schema.Strings(errs))
		current, currentErrs = repaired, errs
	}

	first := schema.Strings(currentErrs)
	if len(first) > 3 {
		first = first[:3]
	}
	errorPlan := schema.BuildErrorPlan(
		extractField(raw, "domain", schema.DefaultErrorDomain),
		extractField(raw, "dataset", schema.DefaultErrorDataset),
		schema.ErrorTypeValidation,
		fmt.Sprintf("Failed to produce valid QueryPlan after %d retries. Errors: %s", MaxRetries, strings.Join(first, "; ")),
		true,
	)

	l.logger.Warn("⚠️ RepairLoop: giving up, returning error plan", "retries", MaxRetries, "errors", len(currentErrs))
	return errorPlan, currentErrs, MaxRetries
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
