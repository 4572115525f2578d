package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestsInProgress prometheus.Gauge
	analysesTotal      *prometheus.CounterVec
	analysisDuration   *prometheus.HistogramVec
	analysisFindings   prometheus.Histogram
	stageResults       *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnrisk_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vulnrisk_http_requests_in_progress",
			Help: "HTTP requests currently being served.",
		}),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnrisk_analyses_total",
			Help: "Finished analyses by outcome.",
		}, []string{"outcome"}),
		analysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnrisk_analysis_duration_seconds",
			Help:    "Wall time of one analysis request.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		analysisFindings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnrisk_analysis_vulnerabilities",
			Help:    "Vulnerabilities reported per completed analysis.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		stageResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnrisk_stage_results_total",
			Help: "Stage results by stage and status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnrisk_stage_duration_seconds",
			Help:    "Stage wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.requestsTotal, m.requestsInProgress,
		m.analysesTotal, m.analysisDuration, m.analysisFindings,
		m.stageResults, m.stageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware tracks request metrics. The route label is the chi pattern so
// ids in paths do not blow up cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInProgress.Inc()
		defer m.requestsInProgress.Dec()

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// AnalysisCompleted records a run that reached aggregation.
func (m *Metrics) AnalysisCompleted(state domain.RunState, d time.Duration, vulnerabilities int) {
	m.analysesTotal.WithLabelValues(string(state)).Inc()
	m.analysisDuration.WithLabelValues(string(state)).Observe(d.Seconds())
	m.analysisFindings.Observe(float64(vulnerabilities))
}

// AnalysisFailed records a run rejected before any stage ran.
func (m *Metrics) AnalysisFailed(reason string, d time.Duration) {
	outcome := "rejected_" + reason
	m.analysesTotal.WithLabelValues(outcome).Inc()
	m.analysisDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveStage records one stage result.
func (m *Metrics) ObserveStage(r domain.StageResult) {
	m.stageResults.WithLabelValues(string(r.Stage), string(r.Status)).Inc()
	m.stageDuration.WithLabelValues(string(r.Stage)).Observe(float64(r.DurationMS) / 1000)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
