package translator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/bankquery/schema"
)

// scripted replays fixed replies and records every call.
type scripted struct {
	replies []string
	calls   [][]Message
	temps   []float64
	maxToks []int
}

func (s *scripted) Complete(ctx context.Context, msgs []Message, temperature float64, maxTokens int) string {
	i := min(len(s.calls), len(s.replies)-1)
	s.calls = append(s.calls, msgs)
	s.temps = append(s.temps, temperature)
	s.maxToks = append(s.maxToks, maxTokens)
	return s.replies[i]
}

func TestRepairLoop_ValidPassesThrough(t *testing.T) {
	c := &scripted{replies: []string{"unused"}}
	loop := NewRepairLoop(validator, c, nil)

	plan, errs, retries := loop.Run(context.Background(), MockPlanText(schema.DomainFinance), "nim")
	assert.Equal(t, 0, retries)
	assert.Empty(t, errs)
	assert.Equal(t, "Finance", plan["domain"])
	assert.Empty(t, c.calls)
}

func TestRepairLoop_MalformedRepairsWithMock(t *testing.T) {
	loop := NewRepairLoop(validator, NewFallback(NewMock(), 1, nil), nil)

	plan, errs, retries := loop.Run(context.Background(),
		`{"domain": "Finance", "intent": 123, "dataset": "wrong_dataset"}`, "")
	assert.Equal(t, 1, retries)
	assert.Empty(t, errs)
	assert.Equal(t, MockPlan(schema.DomainFinance), plan)
}

func TestRepairLoop_BrokenTextStillValid(t *testing.T) {
	loop := NewRepairLoop(validator, NewFallback(NewMock(), 1, nil), nil)

	plan, _, retries := loop.Run(context.Background(), "this is not json at all !!!", "")
	valid, errs := validator.Validate(plan)
	assert.True(t, valid, "errors: %v", errs)
	assert.LessOrEqual(t, retries, MaxRetries)
}

func TestRepairLoop_SecondAttemptSucceeds(t *testing.T) {
	c := &scripted{replies: []string{`{"domain":"Risk"}`, MockPlanText(schema.DomainRisk)}}
	loop := NewRepairLoop(validator, c, nil)

	plan, errs, retries := loop.Run(context.Background(), `{"domain":"Risk","intent":"ecl"}`, "")
	assert.Equal(t, 2, retries)
	assert.Empty(t, errs)
	assert.Equal(t, "Risk", plan["domain"])

	// The second attempt repairs the first attempt's output.
	require.Len(t, c.calls, 2)
	assert.Contains(t, c.calls[1][1].Content, "Original JSON (invalid):\n{\"domain\":\"Risk\"}\n")
}

func TestRepairLoop_RepairRequestShape(t *testing.T) {
	c := &scripted{replies: []string{MockPlanText(schema.DomainAML)}}
	loop := NewRepairLoop(validator, c, nil)

	raw := `{"domain":"AML","dataset":"transactions"}`
	_, _, retries := loop.Run(context.Background(), raw, "")
	require.Equal(t, 1, retries)

	assert.Equal(t, []float64{RepairTemperature}, c.temps)
	assert.Equal(t, []int{MaxTokens}, c.maxToks)

	msgs := c.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are a JSON repair assistant.")
	assert.Contains(t, msgs[0].Content, `"QueryPlan"`)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t,
		"Original JSON (invalid):\n"+raw+"\n\nValidation errors:\nintent: property \"intent\" is missing\n\nFix the JSON. Output ONLY the corrected JSON object.",
		msgs[1].Content)
}

func TestRepairLoop_ExhaustedReturnsErrorPlan(t *testing.T) {
	c := &scripted{replies: []string{`{"domain":"Nope","intent":1,"dataset":"x","metrics":["Z"]}`}}
	loop := NewRepairLoop(validator, c, nil)

	plan, errs, retries := loop.Run(context.Background(), `{"domain":"Risk","intent":5,"dataset":"loans"}`, "")

	assert.Equal(t, MaxRetries, retries)
	assert.Len(t, c.calls, MaxRetries)
	assert.Len(t, errs, 4)

	valid, verrs := validator.Validate(plan)
	require.True(t, valid, "errors: %v", verrs)

	assert.Equal(t, "error", plan["intent"])
	assert.Equal(t, "Risk", plan["domain"])
	assert.Equal(t, "loans", plan["dataset"])

	errObj := plan["error"].(map[string]any)
	assert.Equal(t, "validation_error", errObj["type"])
	assert.Equal(t, true, errObj["repair_attempted"])

	msg := errObj["message"].(string)
	prefix := "Failed to produce valid QueryPlan after 2 retries. Errors: "
	require.True(t, strings.HasPrefix(msg, prefix), msg)
	assert.Equal(t, strings.Join(schema.Strings(errs[:3]), "; "), strings.TrimPrefix(msg, prefix))
}

func TestRepairLoop_ErrorPlanDefaultsWhenRawUnreadable(t *testing.T) {
	c := &scripted{replies: []string{"still not json"}}
	loop := NewRepairLoop(validator, c, nil)

	plan, errs, retries := loop.Run(context.Background(), "this is not json at all !!!", "")
	assert.Equal(t, MaxRetries, retries)
	require.Len(t, errs, 1)
	assert.Equal(t, "Finance", plan["domain"])
	assert.Equal(t, "interest", plan["dataset"])
}
