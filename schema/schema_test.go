package schema

import (
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// FIXTURES
// ============================================================================

const financePlanJSON = `{
	"domain": "Finance",
	"intent": "Calculate Net Interest Margin by product for UK in Q1 2025",
	"dataset": "interest",
	"time_range": {"start": "2025-01-01", "end": "2025-03-31"},
	"filters": [{"field": "region", "op": "=", "value": "UK"}],
	"group_by": ["product"],
	"metrics": ["NII", "NIM"],
	"explanation_requirements": {"include_terms_used": true, "include_assumptions": true, "include_safety_notes": true}
}`

const riskPlanJSON = `{
	"domain": "Risk",
	"intent": "Show loans migrated from Stage 1 to Stage 2 and compute ECL",
	"dataset": "loans",
	"time_range": {"start": "2024-12-28", "end": "2025-01-28"},
	"filters": [{"field": "stage_ifrs9", "op": "=", "value": 2}, {"field": "previous_stage", "op": "=", "value": 1}],
	"group_by": [],
	"metrics": ["ECL"]
}`

const treasuryPlanJSON = `{
	"domain": "Treasury",
	"intent": "Show monthly NSFR trend and flag months below 100%",
	"dataset": "liquidity",
	"filters": [{"field": "region", "op": "=", "value": "UK"}],
	"group_by": ["month"],
	"metrics": ["NSFR"],
	"post_processing": {"flag_threshold": 100.0, "sort_by": "month", "sort_order": "asc"}
}`

const amlPlanJSON = `{
	"domain": "AML",
	"intent": "Find customers with repeated cash deposits near reporting threshold within 7 days",
	"dataset": "transactions",
	"filters": [{"field": "cash", "op": "=", "value": true}],
	"group_by": ["customer_id"],
	"metrics": ["STRUCTURING_FLAG"],
	"post_processing": {"window_days": 7, "min_count": 3}
}`

const errorPlanJSON = `{
	"domain": "Finance",
	"intent": "error",
	"dataset": "interest",
	"error": {"type": "validation_error", "message": "Test error", "repair_attempted": true}
}`

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := Load()
	require.NoError(t, err)
	return v
}

func paths(errs []ValidationError) [][]string {
	out := make([][]string, len(errs))
	for i, e := range errs {
		out[i] = e.Path
	}
	return out
}

// ============================================================================
// WELL-FORMED PLANS
// ============================================================================

func TestValidate_WellFormedPlans(t *testing.T) {
	v := newValidator(t)

	for name, doc := range map[string]string{
		"finance":  financePlanJSON,
		"risk":     riskPlanJSON,
		"treasury": treasuryPlanJSON,
		"aml":      amlPlanJSON,
		"error":    errorPlanJSON,
	} {
		t.Run(name, func(t *testing.T) {
			ok, errs := v.Validate(decode(t, doc))
			assert.True(t, ok, "errors: %v", Strings(errs))
			assert.Empty(t, errs)
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	v := newValidator(t)
	plan := decode(t, amlPlanJSON)

	ok1, errs1 := v.Validate(plan)
	ok2, errs2 := v.Validate(plan)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, errs1, errs2)

	bad := decode(t, `{"domain": "Retail", "intent": 7}`)
	ok1, errs1 = v.Validate(bad)
	ok2, errs2 = v.Validate(bad)
	assert.False(t, ok1)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, errs1, errs2)
}

// The embedded document also validates the fixtures under a 2020-12 validator.
func TestDocument_AgreesWithJSONSchemaValidator(t *testing.T) {
	var js jsonschema.Schema
	require.NoError(t, json.Unmarshal(Document(), &js))
	resolved, err := js.Resolve(nil)
	require.NoError(t, err)

	for _, doc := range []string{financePlanJSON, riskPlanJSON, treasuryPlanJSON, amlPlanJSON, errorPlanJSON} {
		assert.NoError(t, resolved.Validate(decode(t, doc)))
	}
	assert.Error(t, resolved.Validate(decode(t, `{"domain": "Retail", "intent": "x", "dataset": "interest"}`)))
}

// ============================================================================
// SCHEMA ERRORS
// ============================================================================

func TestValidate_InvalidDomain(t *testing.T) {
	v := newValidator(t)
	plan := decode(t, financePlanJSON)
	plan["domain"] = "Retail"

	ok, errs := v.Validate(plan)
	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"domain"}, errs[0].Path)
	assert.Contains(t, errs[0].Message, "allowed values")
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	v := newValidator(t)

	ok, errs := v.Validate(map[string]any{})
	require.False(t, ok)
	assert.Equal(t, [][]string{{"dataset"}, {"domain"}, {"intent"}}, paths(errs))
}

func TestValidate_InvalidDataset(t *testing.T) {
	v := newValidator(t)
	plan := decode(t, `{"domain": "Finance", "intent": "x", "dataset": "wrong_dataset"}`)

	ok, errs := v.Validate(plan)
	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"dataset"}, errs[0].Path)
	assert.Contains(t, errs[0].String(), "dataset: ")
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	v := newValidator(t)
	plan := decode(t, `{
		"domain": "Finance",
		"intent": 123,
		"dataset": "wrong_dataset",
		"metrics": ["NII", "ROE"],
		"filters": [{"field": "region", "op": "~", "value": "UK"}],
		"time_range": {"start": "01/01/2025", "end": "2025-03-31"}
	}`)

	ok, errs := v.Validate(plan)
	require.False(t, ok)
	assert.Equal(t, [][]string{
		{"dataset"},
		{"filters", "0", "op"},
		{"intent"},
		{"metrics", "1"},
		{"time_range", "start"},
	}, paths(errs))
}

func TestValidate_ErrorIntentConsistency(t *testing.T) {
	v := newValidator(t)

	missing := decode(t, `{"domain": "Finance", "intent": "error", "dataset": "interest"}`)
	ok, errs := v.Validate(missing)
	require.False(t, ok)
	assert.Equal(t, [][]string{{"error"}}, paths(errs))

	stray := decode(t, financePlanJSON)
	stray["error"] = map[string]any{"type": "x", "message": "y"}
	ok, errs = v.Validate(stray)
	require.False(t, ok)
	assert.Equal(t, [][]string{{"error"}}, paths(errs))
}

func TestValidationError_String(t *testing.T) {
	assert.Equal(t, "(root): boom", ValidationError{Message: "boom"}.String())
	assert.Equal(t, "filters.0.op: bad", ValidationError{Path: []string{"filters", "0", "op"}, Message: "bad"}.String())
}

// ============================================================================
// ERROR PLAN
// ============================================================================

func TestBuildErrorPlan_IsSchemaValid(t *testing.T) {
	v := newValidator(t)

	plan := BuildErrorPlan("AML", "transactions", ErrorTypeValidation, "nope", true)
	ok, errs := v.Validate(plan)
	assert.True(t, ok, "errors: %v", Strings(errs))
	assert.Equal(t, IntentError, plan["intent"])

	errObj := plan["error"].(map[string]any)
	assert.Equal(t, ErrorTypeValidation, errObj["type"])
	assert.Equal(t, "nope", errObj["message"])
	assert.Equal(t, true, errObj["repair_attempted"])
}

func TestBuildErrorPlan_FallsBackOnUnknownValues(t *testing.T) {
	v := newValidator(t)

	plan := BuildErrorPlan("Retail", "ledger", "", "", false)
	ok, errs := v.Validate(plan)
	assert.True(t, ok, "errors: %v", Strings(errs))
	assert.Equal(t, DomainFinance, plan["domain"])
	assert.Equal(t, DatasetInterest, plan["dataset"])
	assert.NotEmpty(t, plan["error"].(map[string]any)["message"])
}

func TestMetricCatalog(t *testing.T) {
	assert.Equal(t, DatasetInterest, DatasetFor(MetricNIM))
	assert.Equal(t, DatasetLoans, DatasetFor(MetricECL))
	assert.Equal(t, DatasetLiquidity, DatasetFor(MetricNSFR))
	assert.Equal(t, DatasetTransactions, DatasetFor(MetricStructuringFlag))
	assert.Empty(t, DatasetFor("ROE"))
}
