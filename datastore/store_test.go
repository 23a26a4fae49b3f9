package datastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/bankquery/engine"
)

// ============================================================================
// FILE STORE
// ============================================================================

func TestEmbedded_Datasets(t *testing.T) {
	s := NewEmbedded()
	assert.Equal(t, []string{"interest", "liquidity", "loans", "transactions"}, s.Datasets())
}

func TestEmbedded_LoadNormalisesScalars(t *testing.T) {
	rows, err := NewEmbedded().Load(context.Background(), "loans")
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	first := rows[0]
	assert.Equal(t, "LN-0001", first["loan_id"])
	assert.Equal(t, 2.0, first["stage_ifrs9"])
	assert.Equal(t, "2025-01-06", first["last_updated"])
	assert.IsType(t, float64(0), first["ead"])
}

func TestEmbedded_Thresholds(t *testing.T) {
	table, err := NewEmbedded().LoadThresholds(context.Background())
	require.NoError(t, err)
	assert.Contains(t, table, engine.Threshold{Jurisdiction: "UK", Currency: "GBP", CashReportingThreshold: 10000})
}

func TestFileStore_NotFound(t *testing.T) {
	s := NewEmbedded()
	for _, name := range []string{"ledger", "../data/loans", "loans.json", ""} {
		_, err := s.Load(context.Background(), name)
		assert.True(t, errors.Is(err, ErrNotFound), "name %q: %v", name, err)
	}
}

func TestFileStore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedded().Load(ctx, "loans")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirStore_CSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "liquidity.csv"),
		[]byte("month,region,available_stable_funding,required_stable_funding\n2025-01,UK,950,1000\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thresholds.json"),
		[]byte(`[{"jurisdiction":"UK","currency":"GBP","cash_reporting_threshold":15000}]`), 0o600))

	s, err := Open(Options{Kind: KindDir, Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"liquidity"}, s.Datasets())

	rows, err := s.Load(context.Background(), "liquidity")
	require.NoError(t, err)
	assert.Equal(t, []engine.Row{{
		"month": "2025-01", "region": "UK",
		"available_stable_funding": 950.0, "required_stable_funding": 1000.0,
	}}, rows)

	table, err := s.LoadThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15000.0, table[0].CashReportingThreshold)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Options{Kind: "s3"})
	assert.Error(t, err)

	_, err = Open(Options{Kind: KindDir})
	assert.Error(t, err)
}

// ============================================================================
// CACHED STORE
// ============================================================================

type countingStore struct {
	Store
	loads int
}

func (c *countingStore) Load(ctx context.Context, name string) ([]engine.Row, error) {
	c.loads++
	return c.Store.Load(ctx, name)
}

func TestCachedStore_HitsAndCopies(t *testing.T) {
	inner := &countingStore{Store: NewEmbedded()}
	s := NewCachedStore(inner, time.Minute, nil)
	defer s.Close()

	ctx := context.Background()
	first, err := s.Load(ctx, "loans")
	require.NoError(t, err)
	first[0]["loan_id"] = "mutated"

	second, err := s.Load(ctx, "loans")
	require.NoError(t, err)
	assert.Equal(t, "LN-0001", second[0]["loan_id"])
	assert.Equal(t, 1, inner.loads)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCachedStore_Warm(t *testing.T) {
	s, err := Open(Options{CacheTTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	cached, ok := s.(*CachedStore)
	require.True(t, ok)
	require.NoError(t, cached.Warm(context.Background()))
	assert.Equal(t, 5, cached.cache.Len())

	assert.Error(t, cached.Warm(context.Background(), "ledger"))
}

// ============================================================================
// DUCKDB STORE
// ============================================================================

func TestDuckStore_MatchesFileStore(t *testing.T) {
	s, err := Open(Options{Kind: KindDuckDB})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	got, err := s.Load(ctx, "loans")
	require.NoError(t, err)
	want, err := NewEmbedded().Load(ctx, "loans")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	table, err := s.LoadThresholds(ctx)
	require.NoError(t, err)
	assert.Len(t, table, 4)

	_, err = s.Load(ctx, "ledger")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// REFERENCE SCENARIOS
// ============================================================================

func execute(t *testing.T, plan engine.Plan) *engine.Result {
	t.Helper()
	res := engine.Execute(context.Background(), plan, engine.WithStore(NewEmbedded()))
	require.False(t, res.Failed(), "summary: %v", res.Summary)
	return res
}

func ptr[T any](v T) *T { return &v }

func TestReferenceData_Finance(t *testing.T) {
	res := execute(t, &engine.WellFormedPlan{
		Dataset:   "interest",
		TimeRange: &engine.TimeRange{Start: "2025-01-01", End: "2025-03-31"},
		Filters:   []engine.Filter{{Field: "region", Op: "=", Value: "UK"}},
		GroupBy:   []string{"product"},
		Metrics:   []string{"NII", "NIM"},
	})

	assert.Equal(t, 9, res.Summary["rows_matched"])
	products := map[string]bool{}
	for _, r := range res.Results {
		products[engine.Text(r, "product")] = true
		assert.Contains(t, r, "NII")
		assert.Contains(t, r, "NIM_pct")
	}
	assert.Equal(t, map[string]bool{"Mortgage": true, "SME Loan": true, "Credit Card": true}, products)
}

func TestReferenceData_Risk(t *testing.T) {
	res := execute(t, &engine.WellFormedPlan{
		Dataset:   "loans",
		TimeRange: &engine.TimeRange{Start: "2024-12-28", End: "2025-01-28"},
		Filters: []engine.Filter{
			{Field: "stage_ifrs9", Op: "=", Value: 2.0},
			{Field: "previous_stage", Op: "=", Value: 1.0},
		},
		Metrics: []string{"ECL"},
	})

	require.Len(t, res.Results, 5)
	for _, r := range res.Results {
		assert.Equal(t, 2.0, r["stage_ifrs9"])
		assert.Equal(t, 1.0, r["previous_stage"])
	}
	assert.Equal(t, 3656.25, res.Results[0]["ecl"])
	assert.Equal(t, 17211.65, res.Summary["total_ecl"])
}

func TestReferenceData_Treasury(t *testing.T) {
	res := execute(t, &engine.WellFormedPlan{
		Dataset: "liquidity",
		Filters: []engine.Filter{{Field: "region", Op: "=", Value: "UK"}},
		GroupBy: []string{"month"},
		Metrics: []string{"NSFR"},
		PostProcessing: engine.PostProcessing{
			FlagThreshold: ptr(100.0), SortBy: "month", SortOrder: "asc",
		},
	})

	assert.Equal(t, 12, res.Summary["total_months"])
	assert.Equal(t, 3, res.Summary["breach_months"])

	months := make([]string, len(res.Results))
	for i, r := range res.Results {
		months[i] = engine.Text(r, "month")
	}
	assert.IsIncreasing(t, months)
}

func TestReferenceData_AML(t *testing.T) {
	res := execute(t, &engine.WellFormedPlan{
		Dataset: "transactions",
		Filters: []engine.Filter{{Field: "cash", Op: "=", Value: true}},
		GroupBy: []string{"customer_id"},
		Metrics: []string{"STRUCTURING_FLAG"},
		PostProcessing: engine.PostProcessing{
			WindowDays: ptr(7), MinCount: ptr(3),
		},
	})

	require.NotEmpty(t, res.Results)
	assert.Equal(t, "CUST-1001", res.Results[0]["customer_id"])
	for _, r := range res.Results {
		assert.GreaterOrEqual(t, r["count"], 3)
		assert.NotEqual(t, "CUST-1003", r["customer_id"])
	}
	assert.Equal(t, 10000.0, res.Summary["threshold_used"])
}
