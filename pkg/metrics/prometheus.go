// Package metrics provides Prometheus metrics for the driftwatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Message flow
	messagesProcessed *prometheus.CounterVec
	messagesPublished *prometheus.CounterVec
	publishRetries    prometheus.Counter
	redeliveries      *prometheus.CounterVec
	deadLettered      *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec

	// Failure taxonomy
	decodeFailures  *prometheus.CounterVec
	scoringFailures prometheus.Counter
	appendFailures  prometheus.Counter

	// Correlation
	correlationsCompleted prometheus.Counter
	correlationsOrphaned  prometheus.Counter
	duplicateCompletions  prometheus.Counter
	pendingCorrelations   prometheus.Gauge

	// Latency
	scoringLatency prometheus.Histogram
	appendLatency  prometheus.Histogram

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "driftwatch",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.messagesProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_processed_total",
			Help:      "Total number of messages successfully processed, by stage",
		},
		[]string{"stage"},
	)

	m.messagesPublished = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_published_total",
			Help:      "Total number of messages published, by queue",
		},
		[]string{"queue"},
	)

	m.publishRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_retries_total",
		Help:      "Total number of publish attempts that were retried after a broker failure",
	})

	m.redeliveries = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "redeliveries_total",
			Help:      "Total number of messages negatively acknowledged for redelivery, by queue",
		},
		[]string{"queue"},
	)

	m.deadLettered = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "dead_lettered_total",
			Help:      "Total number of messages moved to the dead-letter queue, by origin queue",
		},
		[]string{"queue"},
	)

	m.queueDepth = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "queue_depth",
			Help:      "Current backlog of the named queue",
		},
		[]string{"queue"},
	)

	m.decodeFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "decode_failures_total",
			Help:      "Total number of malformed payloads dropped on decode, by queue",
		},
		[]string{"queue"},
	)

	m.scoringFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_failures_total",
		Help:      "Total number of feature messages the model could not score",
	})

	m.appendFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "metric_append_failures_total",
		Help:      "Total number of failed metric log appends",
	})

	m.correlationsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "correlations_completed_total",
		Help:      "Total number of id correlations completed with both halves",
	})

	m.correlationsOrphaned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "correlations_orphaned_total",
		Help:      "Total number of correlation entries evicted before completion",
	})

	m.duplicateCompletions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "duplicate_completions_total",
		Help:      "Total number of observations ignored because their id already completed",
	})

	m.pendingCorrelations = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pending_correlations",
		Help:      "Current number of correlation entries waiting for their other half",
	})

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_latency_milliseconds",
		Help:      "Histogram of model scoring latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.appendLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "metric_append_latency_milliseconds",
		Help:      "Histogram of metric log append latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, by endpoint, method, and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "Histogram of HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method"},
	)
}

// RecordMessageProcessed increments the processed counter for a stage.
func RecordMessageProcessed(stage string) {
	globalManager.messagesProcessed.WithLabelValues(stage).Inc()
}

// RecordMessagePublished increments the published counter for a queue.
func RecordMessagePublished(queue string) {
	globalManager.messagesPublished.WithLabelValues(queue).Inc()
}

// RecordPublishRetry increments the publish retry counter.
func RecordPublishRetry() {
	globalManager.publishRetries.Inc()
}

// RecordRedelivery increments the redelivery counter for a queue.
func RecordRedelivery(queue string) {
	globalManager.redeliveries.WithLabelValues(queue).Inc()
}

// RecordDeadLettered increments the dead-letter counter for the origin queue.
func RecordDeadLettered(queue string) {
	globalManager.deadLettered.WithLabelValues(queue).Inc()
}

// UpdateQueueDepth sets the current backlog gauge for a queue.
func UpdateQueueDepth(queue string, depth int) {
	globalManager.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDecodeFailure increments the decode failure counter for a queue.
func RecordDecodeFailure(queue string) {
	globalManager.decodeFailures.WithLabelValues(queue).Inc()
}

// RecordScoringFailure increments the scoring failure counter.
func RecordScoringFailure() {
	globalManager.scoringFailures.Inc()
}

// RecordAppendFailure increments the metric log append failure counter.
func RecordAppendFailure() {
	globalManager.appendFailures.Inc()
}

// RecordCorrelationCompleted increments the completed correlations counter.
func RecordCorrelationCompleted() {
	globalManager.correlationsCompleted.Inc()
}

// RecordCorrelationOrphaned increments the orphaned correlations counter.
func RecordCorrelationOrphaned() {
	globalManager.correlationsOrphaned.Inc()
}

// RecordDuplicateCompletion increments the duplicate completion counter.
func RecordDuplicateCompletion() {
	globalManager.duplicateCompletions.Inc()
}

// UpdatePendingCorrelations sets the pending correlations gauge.
func UpdatePendingCorrelations(count int) {
	globalManager.pendingCorrelations.Set(float64(count))
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordAppendLatency records metric log append latency in milliseconds.
func RecordAppendLatency(latencyMs float64) {
	globalManager.appendLatency.Observe(latencyMs)
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
