package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/jsonschema-go/jsonschema"
)

// ============================================================================
// PLAN SCHEMA — Canonical shape of a QueryPlan + validator
// ============================================================================
// The schema document is embedded and treated as immutable configuration.
// A Validator is built once by the caller and passed to whoever needs it;
// there is no package-level cache.
//
// Structural checks (required, enum, type, date pattern) run through
// kin-openapi with multi-error collection so every violation is reported,
// not just the first. One semantic rule sits on top: intent "error" and the
// error object must appear together.
// ============================================================================

//go:embed plan.schema.json
var planSchemaDoc []byte

// Document returns a copy of the embedded QueryPlan JSON Schema.
func Document() []byte {
	return slices.Clone(planSchemaDoc)
}

// ValidationError is a single schema violation.
type ValidationError struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// String renders "a.b: message", using "(root)" for an empty path.
func (e ValidationError) String() string {
	path := strings.Join(e.Path, ".")
	if path == "" {
		path = "(root)"
	}
	return path + ": " + e.Message
}

func (e ValidationError) Error() string { return e.String() }

// Strings renders a list of validation errors, one string per error.
func Strings(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.String()
	}
	return out
}

// Validator checks candidate plans against a schema document.
type Validator struct {
	doc  []byte
	root *openapi3.Schema
}

// Load builds a Validator from the embedded schema document.
func Load() (*Validator, error) {
	return NewValidator(planSchemaDoc)
}

// MustLoad is Load for package-level test fixtures and main.
func MustLoad() *Validator {
	v, err := Load()
	if err != nil {
		panic(err)
	}
	return v
}

// NewValidator builds a Validator from a JSON Schema document.
// The document is resolved once with jsonschema-go to reject malformed
// schemas up front.
func NewValidator(doc []byte) (*Validator, error) {
	var js jsonschema.Schema
	if err := json.Unmarshal(doc, &js); err != nil {
		return nil, fmt.Errorf("failed to parse plan schema: %w", err)
	}
	if _, err := js.Resolve(nil); err != nil {
		return nil, fmt.Errorf("failed to resolve plan schema: %w", err)
	}

	root := &openapi3.Schema{}
	if err := json.Unmarshal(doc, root); err != nil {
		return nil, fmt.Errorf("failed to load plan schema: %w", err)
	}
	return &Validator{doc: slices.Clone(doc), root: root}, nil
}

// Document returns the schema document this validator was built from.
func (v *Validator) Document() []byte {
	return slices.Clone(v.doc)
}

// Validate checks plan against the schema. Errors are sorted by path so
// repeated runs (and the repair prompts built from them) are identical.
func (v *Validator) Validate(plan map[string]any) (bool, []ValidationError) {
	var errs []ValidationError

	if err := v.root.VisitJSON(plan, openapi3.MultiErrors()); err != nil {
		errs = append(errs, flatten(err)...)
	}
	errs = append(errs, checkErrorIntent(plan)...)

	if len(errs) == 0 {
		return true, nil
	}
	sortErrors(errs)
	return false, errs
}

// checkErrorIntent enforces that intent "error" and the error object travel together.
func checkErrorIntent(plan map[string]any) []ValidationError {
	intent, _ := plan["intent"].(string)
	_, hasError := plan["error"]

	switch {
	case intent == IntentError && !hasError:
		return []ValidationError{{Path: []string{"error"}, Message: `error object is required when intent is "error"`}}
	case intent != IntentError && hasError:
		return []ValidationError{{Path: []string{"error"}, Message: `error object is only allowed when intent is "error"`}}
	}
	return nil
}

// flatten unwraps nested kin-openapi multi-errors into ValidationErrors.
func flatten(err error) []ValidationError {
	switch e := err.(type) {
	case openapi3.MultiError:
		var out []ValidationError
		for _, inner := range e {
			out = append(out, flatten(inner)...)
		}
		return out
	case *openapi3.SchemaError:
		msg := e.Reason
		if msg == "" {
			msg = fmt.Sprintf("doesn't match schema %q", e.SchemaField)
		}
		return []ValidationError{{Path: e.JSONPointer(), Message: msg}}
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return flatten(se)
	}
	return []ValidationError{{Message: err.Error()}}
}

func sortErrors(errs []ValidationError) {
	slices.SortStableFunc(errs, func(a, b ValidationError) int {
		if c := slices.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Message, b.Message)
	})
}
