// Package metrics provides Prometheus metrics for the score collection pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values shared by callers.
const (
	ResultOK      = "ok"
	ResultEmpty   = "empty"
	ResultError   = "error"
	ResultBlocked = "blocked"
)

// Manager owns every collector of the service.
// A nil or disabled Manager records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	// Pipeline
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	observations     prometheus.Counter
	daysCompleted    prometheus.Counter
	scoresComputed   *prometheus.CounterVec
	latestScoreValue *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	engineLatency    *prometheus.HistogramVec
	engineFailures   *prometheus.CounterVec

	// Trend source
	trendCalls   *prometheus.CounterVec
	quotaBlocks  prometheus.Counter
	blockedUntil prometheus.Gauge

	// HTTP API
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager on its own registry unless one is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fluscore",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Pipeline runs by terminal outcome",
	}, []string{"model_id", "outcome"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a single model run",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	m.observations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "observations_recorded_total",
		Help:      "Observations written by fetch batches",
	})

	m.daysCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "observation_days_completed_total",
		Help:      "Completion markers written",
	})

	m.scoresComputed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scores_computed_total",
		Help:      "Model scores persisted",
	}, []string{"model_id"})

	m.latestScoreValue = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "latest_score",
		Help:      "Most recent score persisted per model",
	}, []string{"model_id"})

	m.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_total",
		Help:      "Score notifications by result",
	}, []string{"result"})

	m.engineLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "engine",
		Name:      "call_duration_seconds",
		Help:      "Scoring engine call latency",
		Buckets:   m.histogramBuckets,
	}, []string{"engine"})

	m.engineFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "engine",
		Name:      "failures_total",
		Help:      "Scoring engine calls that produced no usable result",
	}, []string{"engine"})

	m.trendCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "trends",
		Name:      "calls_total",
		Help:      "Trend API calls by kind and result",
	}, []string{"kind", "result"})

	m.quotaBlocks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "trends",
		Name:      "quota_blocks_total",
		Help:      "Times the trend API quota was exhausted",
	})

	m.blockedUntil = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "trends",
		Name:      "blocked_until_timestamp_seconds",
		Help:      "Unix time at which trend calls resume, 0 when not blocked",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"route", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   m.histogramBuckets,
	}, []string{"route"})
}

func (m *Manager) active() bool {
	return m != nil && m.enabled
}

// Registry returns the registry collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun counts a finished run and its duration.
func (m *Manager) RecordRun(modelID, outcome string, d time.Duration) {
	if !m.active() {
		return
	}
	m.runs.WithLabelValues(modelID, outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// AddObservations counts observations written.
func (m *Manager) AddObservations(n int) {
	if !m.active() || n <= 0 {
		return
	}
	m.observations.Add(float64(n))
}

// IncDaysCompleted counts a completion marker.
func (m *Manager) IncDaysCompleted() {
	if !m.active() {
		return
	}
	m.daysCompleted.Inc()
}

// RecordScore counts a persisted score and tracks the latest value.
func (m *Manager) RecordScore(modelID string, value float64) {
	if !m.active() {
		return
	}
	m.scoresComputed.WithLabelValues(modelID).Inc()
	m.latestScoreValue.WithLabelValues(modelID).Set(value)
}

// RecordNotification counts a notification attempt.
func (m *Manager) RecordNotification(result string) {
	if !m.active() {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// ObserveEngine records a scoring engine call.
func (m *Manager) ObserveEngine(engine string, d time.Duration, err error) {
	if !m.active() {
		return
	}
	m.engineLatency.WithLabelValues(engine).Observe(d.Seconds())
	if err != nil {
		m.engineFailures.WithLabelValues(engine).Inc()
	}
}

// RecordTrendCall counts a trend API call.
func (m *Manager) RecordTrendCall(kind, result string) {
	if !m.active() {
		return
	}
	m.trendCalls.WithLabelValues(kind, result).Inc()
}

// SetBlockedUntil records a quota block; a zero time clears the gauge.
func (m *Manager) SetBlockedUntil(until time.Time) {
	if !m.active() {
		return
	}
	if until.IsZero() {
		m.blockedUntil.Set(0)
		return
	}
	m.quotaBlocks.Inc()
	m.blockedUntil.Set(float64(until.Unix()))
}

// ObserveHTTP records an API request.
func (m *Manager) ObserveHTTP(route, status string, d time.Duration) {
	if !m.active() {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
