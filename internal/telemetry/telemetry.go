// Package telemetry provides Prometheus metrics and a rolling provider
// health view for the strategy engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus metrics for the service.
type Manager struct {
	namespace string
	registry  prometheus.Registerer

	providerInvocations *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec

	phaseDuration *prometheus.HistogramVec
	phaseFailures *prometheus.CounterVec

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	runsRetried   prometheus.Counter
	activeRuns    prometheus.Gauge

	dedupMerged  prometheus.Counter
	staleDropped prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry()

func init() {
	globalManager = NewManager(customRegistry)
}

// NewManager creates a metrics manager registered on reg.
func NewManager(reg prometheus.Registerer) *Manager {
	m := &Manager{
		namespace: "strategy",
		registry:  reg,
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.providerInvocations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "provider_invocations_total",
			Help:      "Total provider invocations by provider, content type, and outcome",
		},
		[]string{"provider", "content_type", "outcome"},
	)

	m.providerLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "provider_latency_milliseconds",
			Help:      "Provider invocation latency in milliseconds",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"provider", "content_type"},
	)

	m.phaseDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "phase_duration_milliseconds",
			Help:      "Pipeline phase duration in milliseconds",
			Buckets:   []float64{100, 500, 1000, 5000, 15000, 30000, 60000, 120000},
		},
		[]string{"phase"},
	)

	m.phaseFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "phase_failures_total",
			Help:      "Total phase failures by phase",
		},
		[]string{"phase"},
	)

	m.runsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_started_total",
		Help:      "Total pipeline runs started",
	})

	m.runsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_completed_total",
		Help:      "Total pipeline runs completed",
	})

	m.runsFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_failed_total",
		Help:      "Total pipeline runs that failed after retries were exhausted",
	})

	m.runsRetried = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_retried_total",
		Help:      "Total run retry attempts",
	})

	m.activeRuns = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "active_runs",
		Help:      "Number of pipeline runs currently executing",
	})

	m.dedupMerged = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "consolidation_merged_total",
		Help:      "Total items merged into an existing group during consolidation",
	})

	m.staleDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "consolidation_stale_dropped_total",
		Help:      "Total items dropped by the freshness window",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)
}

// RecordProviderInvocation records one provider call and its outcome.
func RecordProviderInvocation(provider, contentType, outcome string, latencyMs int64) {
	globalManager.providerInvocations.WithLabelValues(provider, contentType, outcome).Inc()
	globalManager.providerLatency.WithLabelValues(provider, contentType).Observe(float64(latencyMs))
	health.observe(provider, outcome, latencyMs)
}

// RecordPhaseDuration records a completed phase's duration.
func RecordPhaseDuration(phase string, durationMs int64) {
	globalManager.phaseDuration.WithLabelValues(phase).Observe(float64(durationMs))
}

// RecordPhaseFailure increments the failure counter for a phase.
func RecordPhaseFailure(phase string) {
	globalManager.phaseFailures.WithLabelValues(phase).Inc()
}

// RecordRunStarted increments the started counter and the active gauge.
func RecordRunStarted() {
	globalManager.runsStarted.Inc()
	globalManager.activeRuns.Inc()
}

// RecordRunCompleted marks a run complete and releases the active slot.
func RecordRunCompleted() {
	globalManager.runsCompleted.Inc()
	globalManager.activeRuns.Dec()
}

// RecordRunFailed marks a run permanently failed and releases the
// active slot.
func RecordRunFailed() {
	globalManager.runsFailed.Inc()
	globalManager.activeRuns.Dec()
}

// RecordRunRetry increments the retry counter.
func RecordRunRetry() {
	globalManager.runsRetried.Inc()
}

// RecordConsolidationMerge increments the merged-items counter.
func RecordConsolidationMerge() {
	globalManager.dedupMerged.Inc()
}

// RecordConsolidationStaleDrop increments the stale-drop counter.
func RecordConsolidationStaleDrop() {
	globalManager.staleDropped.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}

// GetRegistry returns the Prometheus registry backing the metrics
// endpoint.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
