// Package metrics holds the Prometheus instruments bankquery exports.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Plan outcomes.
const (
	OutcomeValid     = "valid"
	OutcomeRepaired  = "repaired"
	OutcomeErrorPlan = "error_plan"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bankquery_build_info",
		Help: "Build information of bankquery",
	}, []string{"version", "provider"})

	Plans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankquery_plans_total", Help: "Plans produced by the repair loop, by outcome.",
	}, []string{"domain", "outcome"})
	RepairAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bankquery_repair_attempts_total", Help: "Repair requests sent to the model.",
	})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankquery_executions_total", Help: "Plan executions, by dataset and result.",
	}, []string{"dataset", "result"})
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankquery_execution_duration_seconds",
		Help:    "Time spent executing a plan.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"dataset"})
	ResultRows = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankquery_result_rows",
		Help:    "Rows returned per execution.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	}, []string{"dataset"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankquery_generation_duration_seconds",
		Help:    "Time spent waiting for the model, by provider.",
		Buckets: prometheus.ExponentialBuckets(0.01, 3, 8),
	}, []string{"provider"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankquery_http_requests_total", Help: "HTTP requests, by route and status.",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankquery_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// ObservePlan records the repair loop's outcome for one plan.
func ObservePlan(domain string, retries int, errorPlan bool) {
	outcome := OutcomeValid
	switch {
	case errorPlan:
		outcome = OutcomeErrorPlan
	case retries > 0:
		outcome = OutcomeRepaired
	}
	Plans.WithLabelValues(domain, outcome).Inc()
	RepairAttempts.Add(float64(retries))
}

// ObserveExecution records one engine run.
func ObserveExecution(dataset string, failed bool, rows int, took time.Duration) {
	result := "ok"
	if failed {
		result = "failed"
	}
	Executions.WithLabelValues(dataset, result).Inc()
	ExecutionDuration.WithLabelValues(dataset).Observe(took.Seconds())
	ResultRows.WithLabelValues(dataset).Observe(float64(rows))
}

// RegisterCacheStats exports dataset cache counters read from stats on
// every scrape. Registering a second time keeps the first source.
func RegisterCacheStats(reg prometheus.Registerer, stats func() ttlcache.Metrics) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bankquery_dataset_cache_hits_total", Help: "Dataset cache hits.",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bankquery_dataset_cache_misses_total", Help: "Dataset cache misses.",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bankquery_dataset_cache_evictions_total", Help: "Dataset cache evictions.",
		}, func() float64 { return float64(stats().Evictions) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Middleware records request counts and durations per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
