package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// PROMPT BUILDER — Generation and repair conversations
// ============================================================================
// Generation: the system message carries the full schema document, the
// guidelines, the metric catalog and a field summary per dataset (names,
// kinds and sample values, never rows). The user message carries only the
// question and an optional domain hint.
//
// Repair: the system message carries the schema; the user message carries
// the invalid text and its validation errors, one per line.
// ============================================================================

// PromptInput is everything the generation prompt is built from.
type PromptInput struct {
	Question   string
	DomainHint string               // Finance, Risk, Treasury, AML or empty
	Catalog    []schema.DatasetInfo // optional dataset field summaries
}

// BuildGenerationMessages returns the conversation for a first-draft plan.
func BuildGenerationMessages(schemaDoc []byte, in PromptInput) []Message {
	var sys strings.Builder

	// ── Header ────────────────────────────────────────────────────────────
	sys.WriteString(`You are a banking analytics query planner.
You MUST output ONLY a single valid JSON object conforming to the provided JSON Schema.
Do NOT output any text, markdown, or explanation — ONLY the JSON object.
Do NOT output any form of query language or code — ONLY JSON.

`)

	// ── Schema ────────────────────────────────────────────────────────────
	fmt.Fprintf(&sys, "JSON Schema:\n%s\n\n", indentJSON(schemaDoc))

	// ── Guidelines ────────────────────────────────────────────────────────
	fmt.Fprintf(&sys, `Guidelines:
- domain must be one of: %s
- dataset must be one of: %s
- metrics must be from: %s
- filters use field/op/value where op is one of: %s
- All date strings must be YYYY-MM-DD format
- If you cannot answer, set intent to "error" and include error object

`, strings.Join(schema.Domains, ", "), strings.Join(schema.Datasets, ", "),
		strings.Join(metricIDs(), ", "), strings.Join(schema.Operators, ", "))

	// ── Metric catalog ────────────────────────────────────────────────────
	sys.WriteString("METRICS:\n")
	for _, m := range schema.Metrics {
		fmt.Fprintf(&sys, "- %s (%s): %s — dataset %q, domain %s\n", m.ID, m.Label, m.Formula, m.Dataset, m.Domain)
	}

	// ── Dataset catalog ───────────────────────────────────────────────────
	if len(in.Catalog) > 0 {
		sys.WriteString("\nAVAILABLE DATASETS (field summaries, not actual rows):\n")
		for _, ds := range in.Catalog {
			sys.WriteString(describeDataset(ds))
		}
	}

	return []Message{
		{Role: RoleSystem, Content: sys.String()},
		{Role: RoleUser, Content: buildUserMessage(in)},
	}
}

func buildUserMessage(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User prompt: %s\n", in.Question)

	if in.DomainHint != "" {
		fmt.Fprintf(&b, "\nDomain hint: %s\n", in.DomainHint)
	}

	b.WriteString("\nOutput a complete, schema-valid JSON QueryPlan object. Be concise — output ONLY the JSON with no extra whitespace or comments.")
	return b.String()
}

func describeDataset(ds schema.DatasetInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %q (%d rows)", ds.Name, ds.RowCount)
	if ds.DateField != "" {
		fmt.Fprintf(&b, ", time_range applies to %q", ds.DateField)
	}
	b.WriteString(":\n")
	for _, f := range ds.Fields {
		fmt.Fprintf(&b, "    %s [%s, %s]", f.Key, f.Kind, f.Role)
		if len(f.SampleValues) > 0 && f.Role == schema.RoleDimension {
			fmt.Fprintf(&b, " values: %s", strings.Join(f.SampleValues, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildRepairMessages returns the conversation asking the model to fix an
// invalid plan.
func BuildRepairMessages(schemaDoc []byte, text string, errs []schema.ValidationError) []Message {
	sys := fmt.Sprintf(`You are a JSON repair assistant. The following JSON was supposed to conform
to the QueryPlan schema but has validation errors. Fix the JSON so it conforms.
Output ONLY the corrected JSON object — nothing else.

Schema:
%s
`, indentJSON(schemaDoc))

	user := fmt.Sprintf("Original JSON (invalid):\n%s\n\nValidation errors:\n%s\n\nFix the JSON. Output ONLY the corrected JSON object.",
		text, strings.Join(schema.Strings(errs), "\n"))

	return []Message{
		{Role: RoleSystem, Content: sys},
		{Role: RoleUser, Content: user},
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func indentJSON(doc []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return string(doc)
	}
	return buf.String()
}

func metricIDs() []string {
	ids := make([]string, len(schema.Metrics))
	for i, m := range schema.Metrics {
		ids[i] = m.ID
	}
	return ids
}

// userContent concatenates the user turns of a conversation.
func userContent(msgs []Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Role == RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, " ")
}
