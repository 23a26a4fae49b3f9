package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/schema"
	"github.com/spektr-org/bankquery/translator"
)

// canned answers every request with the same text.
type canned struct {
	reply string
	err   error
	calls int
}

func (c *canned) Generate(ctx context.Context, msgs []translator.Message, temperature float64, maxTokens int) (string, error) {
	c.calls++
	return c.reply, c.err
}

func (c *canned) Name() string { return "canned" }

func TestAsk_Domains(t *testing.T) {
	tests := []struct {
		question string
		domain   string
		check    func(t *testing.T, resp *Response)
	}{
		{
			question: "Calculate Net Interest Margin by product for UK in Q1 2025",
			domain:   schema.DomainFinance,
			check: func(t *testing.T, resp *Response) {
				products := map[string]bool{}
				for _, r := range resp.Results {
					products[engine.Text(r, "product")] = true
				}
				assert.Equal(t, map[string]bool{"Mortgage": true, "SME Loan": true, "Credit Card": true}, products)
				assert.Contains(t, resp.SafetyNotes, engine.NoteNIM)
			},
		},
		{
			question: "Show loans that migrated from Stage 1 to Stage 2 in the last 30 days and compute expected credit loss",
			domain:   schema.DomainRisk,
			check: func(t *testing.T, resp *Response) {
				assert.Len(t, resp.Results, 5)
				assert.Equal(t, 17211.65, resp.Summary["total_ecl"])
			},
		},
		{
			question: "Show monthly NSFR trend and flag months below 100%",
			domain:   schema.DomainTreasury,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, 3, resp.Summary["breach_months"])
				assert.Contains(t, resp.SafetyNotes, engine.NoteNSFR)
			},
		},
		{
			question: "Find customers with repeated cash deposits just below reporting thresholds within 7 days",
			domain:   schema.DomainAML,
			check: func(t *testing.T, resp *Response) {
				require.NotEmpty(t, resp.Results)
				assert.Equal(t, "CUST-1001", resp.Results[0]["customer_id"])
				assert.Contains(t, resp.SafetyNotes, engine.NoteAML)
			},
		},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			resp := p.Ask(context.Background(), tt.question, "")

			assert.NotEmpty(t, resp.RunID)
			assert.Equal(t, tt.question, resp.Question)
			assert.Equal(t, tt.domain, resp.QueryPlan["domain"])
			assert.Zero(t, resp.Retries)
			assert.Empty(t, resp.ValidationErrors)
			assert.NotContains(t, resp.Summary, "error")
			require.Len(t, resp.Trace, 3)
			assert.True(t, strings.HasPrefix(resp.Trace[0], "[Generator] produced raw output ("))
			assert.Equal(t, "[Controller] valid=true, retries=0", resp.Trace[1])
			assert.Equal(t, "[Executor] "+strconv.Itoa(len(resp.Results))+" results", resp.Trace[2])
			tt.check(t, resp)
		})
	}
}

func TestAsk_DomainHint(t *testing.T) {
	resp := New().Ask(context.Background(), "What happened last month?", schema.DomainTreasury)
	assert.Equal(t, schema.DomainTreasury, resp.QueryPlan["domain"])

	resp = New().Ask(context.Background(), "Compute ECL", AutoDomain)
	assert.Equal(t, schema.DomainRisk, resp.QueryPlan["domain"])
}

func TestAsk_FailingClientFallsBackToMock(t *testing.T) {
	c := &canned{err: errors.New("connection refused")}
	resp := New(WithClient(c, 1)).Ask(context.Background(), "Show monthly NSFR trend", "")

	assert.Equal(t, 1, c.calls)
	assert.Equal(t, schema.DomainTreasury, resp.QueryPlan["domain"])
	assert.NotEmpty(t, resp.Results)
}

func TestAsk_UnrepairableOutputBecomesErrorPlan(t *testing.T) {
	c := &canned{reply: `{"domain":"Nope","intent":1}`}
	resp := New(WithClient(c, 1)).Ask(context.Background(), "anything", "")

	assert.Equal(t, 1+translator.MaxRetries, c.calls)
	assert.Equal(t, translator.MaxRetries, resp.Retries)
	assert.NotEmpty(t, resp.ValidationErrors)
	assert.Equal(t, schema.IntentError, resp.QueryPlan["intent"])
	assert.Equal(t, "[Controller] valid=false, retries=2", resp.Trace[1])

	assert.Empty(t, resp.Results)
	msg, _ := resp.Summary["error"].(string)
	assert.True(t, strings.HasPrefix(msg, "Failed to produce valid QueryPlan after 2 retries."), msg)
}

func TestRun_MalformedInputIsRepaired(t *testing.T) {
	resp := New().Run(context.Background(), `{"domain": "Finance", "intent": 123, "dataset": "wrong_dataset"}`, "")

	assert.Equal(t, 1, resp.Retries)
	assert.Empty(t, resp.ValidationErrors)
	assert.Equal(t, translator.MockPlan(schema.DomainFinance), resp.QueryPlan)
	assert.Len(t, resp.Results, 3)
	require.Len(t, resp.Trace, 2)
	assert.Equal(t, "[Controller] valid=true, retries=1", resp.Trace[0])
}

func TestRun_TruncatedOutputIsRecovered(t *testing.T) {
	full := translator.MockPlanText(schema.DomainAML)
	cut := full[:strings.Index(full, `"explanation_requirements"`)]

	resp := New().Run(context.Background(), cut, "")
	assert.Zero(t, resp.Retries)
	assert.Equal(t, schema.DomainAML, resp.QueryPlan["domain"])
	assert.NotEmpty(t, resp.Results)
}

func TestRun_RunIDsAreUnique(t *testing.T) {
	p := New()
	raw := translator.MockPlanText(schema.DomainRisk)
	assert.NotEqual(t, p.Run(context.Background(), raw, "").RunID, p.Run(context.Background(), raw, "").RunID)
}

func TestCatalog(t *testing.T) {
	catalog := New().Catalog(context.Background())
	require.Len(t, catalog, 4)

	dateFields := map[string]string{}
	for _, ds := range catalog {
		assert.NotZero(t, ds.RowCount, ds.Name)
		dateFields[ds.Name] = ds.DateField
	}
	assert.Equal(t, map[string]string{
		"interest":     "date",
		"liquidity":    "month",
		"loans":        "last_updated",
		"transactions": "date",
	}, dateFields)
}

func TestResponse_Result(t *testing.T) {
	resp := New().Run(context.Background(), translator.MockPlanText(schema.DomainFinance), "")
	res := resp.Result()
	assert.Equal(t, resp.Summary, res.Summary)
	assert.Len(t, res.Results, len(resp.Results))
	assert.False(t, res.Failed())
}
