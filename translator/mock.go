package translator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// MOCK CLIENT — Deterministic plans without a model
// ============================================================================
// Answers every conversation with one of four fixed plans, one per domain.
// The domain is picked from the user turns:
//   1. a declared domain: a draft plan's "domain" value or a "Domain hint:"
//   2. keywords, checked in order AML → Treasury → Risk
//   3. Finance
// System turns are ignored; they carry the schema and catalog, which
// mention every domain.
// ============================================================================

var fixtures = map[string]string{
	schema.DomainFinance: `{
  "domain": "Finance",
  "intent": "Calculate Net Interest Margin by product for UK in Q1 2025",
  "dataset": "interest",
  "time_range": {"start": "2025-01-01", "end": "2025-03-31"},
  "filters": [{"field": "region", "op": "=", "value": "UK"}],
  "group_by": ["product"],
  "metrics": ["NII", "NIM"],
  "explanation_requirements": {"include_terms_used": true, "include_assumptions": true, "include_safety_notes": true}
}`,
	schema.DomainRisk: `{
  "domain": "Risk",
  "intent": "Show loans migrated from Stage 1 to Stage 2 and compute ECL",
  "dataset": "loans",
  "time_range": {"start": "2024-12-28", "end": "2025-01-28"},
  "filters": [
    {"field": "stage_ifrs9", "op": "=", "value": 2},
    {"field": "previous_stage", "op": "=", "value": 1}
  ],
  "group_by": [],
  "metrics": ["ECL"],
  "explanation_requirements": {"include_terms_used": true, "include_assumptions": true, "include_safety_notes": true}
}`,
	schema.DomainTreasury: `{
  "domain": "Treasury",
  "intent": "Show monthly NSFR trend and flag months below 100%",
  "dataset": "liquidity",
  "filters": [{"field": "region", "op": "=", "value": "UK"}],
  "group_by": ["month"],
  "metrics": ["NSFR"],
  "post_processing": {"flag_threshold": 100.0, "sort_by": "month", "sort_order": "asc"},
  "explanation_requirements": {"include_terms_used": true, "include_assumptions": true, "include_safety_notes": true}
}`,
	schema.DomainAML: `{
  "domain": "AML",
  "intent": "Find customers with repeated cash deposits near reporting threshold within 7 days",
  "dataset": "transactions",
  "filters": [{"field": "cash", "op": "=", "value": true}],
  "group_by": ["customer_id"],
  "metrics": ["STRUCTURING_FLAG"],
  "post_processing": {"window_days": 7, "min_count": 3},
  "explanation_requirements": {"include_terms_used": true, "include_assumptions": true, "include_safety_notes": true}
}`,
}

// domainKeywords is checked in order; the first domain with a hit wins.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{schema.DomainAML, []string{"aml", "structur", "smurfing", "threshold", "cash deposit"}},
	{schema.DomainTreasury, []string{"nsfr", "liquidity", "stable funding", "treasury"}},
	{schema.DomainRisk, []string{"ecl", "ifrs", "stage", "migration", "credit loss"}},
}

var declaredDomain = regexp.MustCompile(`"domain"\s*:\s*"(Finance|Risk|Treasury|AML)"|Domain hint: (Finance|Risk|Treasury|AML)`)

// InferDomain picks a domain from free text by keyword, defaulting to Finance.
func InferDomain(text string) string {
	lower := strings.ToLower(text)
	for _, dk := range domainKeywords {
		for _, kw := range dk.keywords {
			if strings.Contains(lower, kw) {
				return dk.domain
			}
		}
	}
	return schema.DomainFinance
}

// MockPlanText returns the fixture plan for a domain (Finance when unknown).
func MockPlanText(domain string) string {
	if text, ok := fixtures[domain]; ok {
		return text
	}
	return fixtures[schema.DomainFinance]
}

// MockPlan returns a fresh decoded copy of the fixture plan for a domain.
func MockPlan(domain string) map[string]any {
	var plan map[string]any
	if err := json.Unmarshal([]byte(MockPlanText(domain)), &plan); err != nil {
		panic(err) // fixtures are constants
	}
	return plan
}

// Mock is a Client that answers from the fixtures.
type Mock struct{}

// NewMock returns the deterministic mock client.
func NewMock() *Mock { return &Mock{} }

// Generate returns the fixture for the conversation's domain. It never fails.
func (m *Mock) Generate(ctx context.Context, msgs []Message, temperature float64, maxTokens int) (string, error) {
	return MockPlanText(conversationDomain(msgs)), nil
}

// Name identifies the client.
func (m *Mock) Name() string { return ProviderMock }

func conversationDomain(msgs []Message) string {
	text := userContent(msgs)
	if match := declaredDomain.FindStringSubmatch(text); match != nil {
		if match[1] != "" {
			return match[1]
		}
		return match[2]
	}
	return InferDomain(text)
}
