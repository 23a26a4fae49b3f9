package translator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/spektr-org/bankquery/schema"
)

// ============================================================================
// RESPONSE PARSER — Model text → candidate plan
// ============================================================================
// Models wrap JSON in code fences and get cut off at the token limit.
// Parsing therefore runs in three steps:
//   1. StripFences drops every ``` line
//   2. json.Unmarshal
//   3. on failure, RepairTruncated closes what the model left open
// The result is then handed to the schema validator.
// ============================================================================

var (
	trailingString = regexp.MustCompile(`,?\s*"[^"]*$`)
	trailingKey    = regexp.MustCompile(`,?\s*"[^"]*"\s*:\s*$`)
)

// StripFences removes markdown code fence lines from a fenced response.
// Unfenced text is only trimmed.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// RepairTruncated recovers a JSON object cut off mid-output: it drops a
// trailing unterminated string or dangling key, a trailing comma, then
// appends the missing closing brackets followed by the missing closing
// braces. It succeeds only when the result parses to an object.
func RepairTruncated(text string) (map[string]any, bool) {
	s := strings.TrimRight(text, " \t\r\n")
	if _, _, inString := scan(s); inString {
		s = trailingString.ReplaceAllString(s, "")
	}
	s = trailingKey.ReplaceAllString(s, "")
	s = strings.TrimRight(strings.TrimRight(s, " \t\r\n"), ",")

	openBraces, openBrackets, _ := scan(s)
	s += strings.Repeat("]", max(openBrackets, 0))
	s += strings.Repeat("}", max(openBraces, 0))

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// ParseAndValidate parses raw model output and validates it. The plan is
// nil when the text is not a JSON object; the errors then hold a single
// parse message.
func ParseAndValidate(raw string, v *schema.Validator) (bool, map[string]any, []schema.ValidationError) {
	text := StripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		repaired, ok := RepairTruncated(text)
		if !ok {
			return false, nil, []schema.ValidationError{{Message: fmt.Sprintf("JSON parse error: %v", err)}}
		}
		doc = repaired
	}

	plan, ok := doc.(map[string]any)
	if !ok {
		return false, nil, []schema.ValidationError{{Message: "Expected a JSON object, got " + jsonKind(doc)}}
	}

	valid, errs := v.Validate(plan)
	return valid, plan, errs
}

// scan counts unmatched braces and brackets outside string literals and
// reports whether the text ends inside a string.
func scan(s string) (braces, brackets int, inString bool) {
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			braces++
		case r == '}':
			braces--
		case r == '[':
			brackets++
		case r == ']':
			brackets--
		}
	}
	return braces, brackets, inString
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

// extractField reads a top-level string field from possibly malformed
// JSON text, returning def when the text does not parse or the field is
// missing.
func extractField(text, field, def string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return def
	}
	if s, ok := obj[field].(string); ok {
		return s
	}
	return def
}
