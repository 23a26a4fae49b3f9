package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/bankquery/schema"
)

func TestBuildGenerationMessages(t *testing.T) {
	catalog := []schema.DatasetInfo{schema.Describe("liquidity", []map[string]any{
		{"month": "2025-01", "region": "UK", "available_stable_funding": 950.5},
		{"month": "2025-02", "region": "EU", "available_stable_funding": 1010.25},
	}, schema.DescribeOptions{DateField: "month"})}

	msgs := BuildGenerationMessages(schema.Document(), PromptInput{
		Question:   "Show monthly NSFR trend",
		DomainHint: "Treasury",
		Catalog:    catalog,
	})
	require.Len(t, msgs, 2)

	sys := msgs[0]
	assert.Equal(t, RoleSystem, sys.Role)
	assert.True(t, strings.HasPrefix(sys.Content, "You are a banking analytics query planner."))
	assert.Contains(t, sys.Content, `"title": "QueryPlan"`)
	assert.Contains(t, sys.Content, "- domain must be one of: Finance, Risk, Treasury, AML")
	assert.Contains(t, sys.Content, "- metrics must be from: NII, NIM, ECL, NSFR, STRUCTURING_FLAG")
	assert.Contains(t, sys.Content, "- filters use field/op/value where op is one of: =, !=, >, <, >=, <=, in, contains")
	assert.Contains(t, sys.Content, `- "liquidity" (2 rows), time_range applies to "month":`)
	assert.Contains(t, sys.Content, "region [string, dimension] values: EU, UK")

	user := msgs[1]
	assert.Equal(t, RoleUser, user.Role)
	assert.True(t, strings.HasPrefix(user.Content, "User prompt: Show monthly NSFR trend\n"))
	assert.Contains(t, user.Content, "Domain hint: Treasury")
	assert.NotContains(t, user.Content, "liquidity")
}

func TestBuildGenerationMessages_NoHint(t *testing.T) {
	msgs := BuildGenerationMessages(schema.Document(), PromptInput{Question: "q"})
	assert.NotContains(t, msgs[1].Content, "Domain hint")
	assert.NotContains(t, msgs[0].Content, "AVAILABLE DATASETS")
}

func TestBuildRepairMessages(t *testing.T) {
	errs := []schema.ValidationError{
		{Path: []string{"dataset"}, Message: "bad dataset"},
		{Message: "JSON parse error: eof"},
	}
	msgs := BuildRepairMessages([]byte(`{"title":"QueryPlan"}`), "{x", errs)
	require.Len(t, msgs, 2)

	assert.Equal(t, "You are a JSON repair assistant. The following JSON was supposed to conform\n"+
		"to the QueryPlan schema but has validation errors. Fix the JSON so it conforms.\n"+
		"Output ONLY the corrected JSON object — nothing else.\n\nSchema:\n{\n  \"title\": \"QueryPlan\"\n}\n",
		msgs[0].Content)
	assert.Equal(t, "Original JSON (invalid):\n{x\n\nValidation errors:\ndataset: bad dataset\n(root): JSON parse error: eof\n\nFix the JSON. Output ONLY the corrected JSON object.",
		msgs[1].Content)
}
