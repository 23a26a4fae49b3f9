package metrics

import (
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePlan(t *testing.T) {
	before := testutil.ToFloat64(RepairAttempts)

	ObservePlan("Risk", 0, false)
	ObservePlan("Risk", 2, false)
	ObservePlan("Risk", 2, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(Plans.WithLabelValues("Risk", OutcomeValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Plans.WithLabelValues("Risk", OutcomeRepaired)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Plans.WithLabelValues("Risk", OutcomeErrorPlan)))
	assert.Equal(t, before+4, testutil.ToFloat64(RepairAttempts))
}

func TestObserveExecution(t *testing.T) {
	ObserveExecution("liquidity", false, 12, 3*time.Millisecond)
	ObserveExecution("liquidity", true, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(Executions.WithLabelValues("liquidity", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Executions.WithLabelValues("liquidity", "failed")))
}

func TestRegisterCacheStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := ttlcache.Metrics{Hits: 7, Misses: 3}

	require.NoError(t, RegisterCacheStats(reg, func() ttlcache.Metrics { return stats }))
	require.NoError(t, RegisterCacheStats(reg, func() ttlcache.Metrics { return ttlcache.Metrics{} }))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		got[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"bankquery_dataset_cache_hits_total":      7,
		"bankquery_dataset_cache_misses_total":    3,
		"bankquery_dataset_cache_evictions_total": 0,
	}, got)
}
