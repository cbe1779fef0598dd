package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the Chroma Go services
type PrometheusMetrics struct {
	// Record log metrics
	RecordsPushedTotal *prometheus.CounterVec
	RecordsPulledTotal *prometheus.CounterVec
	PushDuration       *prometheus.HistogramVec
	PullDuration       *prometheus.HistogramVec
	RecordsPurgedTotal prometheus.Counter
	PurgeRunsTotal     *prometheus.CounterVec

	// Compaction metrics
	CompactionCandidates    prometheus.Gauge
	LogPositionUpdatesTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge

	// Collection metrics
	CollectionsTotal prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		RecordsPushedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_records_pushed_total",
				Help: "Total number of records appended to collection logs",
			},
			[]string{"collection_id", "status"},
		),

		RecordsPulledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_records_pulled_total",
				Help: "Total number of records read from collection logs",
			},
			[]string{"collection_id", "status"},
		),

		PushDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chroma_push_duration_seconds",
				Help:    "Time spent appending record batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection_id"},
		),

		PullDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chroma_pull_duration_seconds",
				Help:    "Time spent reading record batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection_id"},
		),

		RecordsPurgedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chroma_records_purged_total",
				Help: "Total number of compacted records deleted by purge",
			},
		),

		PurgeRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_purge_runs_total",
				Help: "Total number of purge sweeps",
			},
			[]string{"trigger", "status"},
		),

		CompactionCandidates: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chroma_compaction_candidates",
				Help: "Number of collections with uncompacted logs at last check",
			},
		),

		LogPositionUpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_log_position_updates_total",
				Help: "Total number of compaction offset flushes",
			},
			[]string{"status"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chroma_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chroma_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chroma_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chroma_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chroma_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chroma_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chroma_goroutines",
				Help: "Number of running goroutines",
			},
		),

		CollectionsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chroma_collections_total",
				Help: "Number of collections currently registered",
			},
		),
	}
}

// RecordPush records a push operation
func (m *PrometheusMetrics) RecordPush(collectionID, status string, count int, duration time.Duration) {
	m.RecordsPushedTotal.WithLabelValues(collectionID, status).Add(float64(count))
	m.PushDuration.WithLabelValues(collectionID).Observe(duration.Seconds())
}

// RecordPull records a pull operation
func (m *PrometheusMetrics) RecordPull(collectionID, status string, count int, duration time.Duration) {
	m.RecordsPulledTotal.WithLabelValues(collectionID, status).Add(float64(count))
	m.PullDuration.WithLabelValues(collectionID).Observe(duration.Seconds())
}

// RecordPurge records a purge sweep
func (m *PrometheusMetrics) RecordPurge(trigger, status string, purged int64) {
	m.PurgeRunsTotal.WithLabelValues(trigger, status).Inc()
	if purged > 0 {
		m.RecordsPurgedTotal.Add(float64(purged))
	}
}

// RecordLogPositionUpdate records a compaction offset flush
func (m *PrometheusMetrics) RecordLogPositionUpdate(status string) {
	m.LogPositionUpdatesTotal.WithLabelValues(status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateComponentHealth sets a component's health gauge
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage sets the memory usage gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount sets the goroutine gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateApplicationUptime sets the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}
