// Package metrics provides Prometheus metrics for ordkeyd
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ordkeyd
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Engine metrics
	EngineOperationsTotal   *prometheus.CounterVec
	EngineOperationDuration *prometheus.HistogramVec
	EngineSizeBytes         prometheus.Gauge
	EngineFreePagesTotal    prometheus.Gauge

	// Codec metrics
	KeysEncodedTotal prometheus.Counter
	KeysDecodedTotal prometheus.Counter

	// Range-iterator metrics
	RangeScansTotal    prometheus.Counter
	RangeResultsTotal  prometheus.Counter
	PrefixScansTotal   prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordkeyd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordkeyd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordkeyd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Engine metrics
	m.EngineOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordkeyd_engine_operations_total",
			Help: "Total number of storage-engine operations",
		},
		[]string{"operation", "status"},
	)

	m.EngineOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordkeyd_engine_operation_duration_seconds",
			Help:    "Duration of storage-engine operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.EngineSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordkeyd_engine_size_bytes",
			Help: "Current database file size in bytes",
		},
	)

	m.EngineFreePagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordkeyd_engine_free_pages_total",
			Help: "Pages currently sitting in the free list, available for reuse before the file grows",
		},
	)

	// Codec metrics
	m.KeysEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordkeyd_keys_encoded_total",
			Help: "Total number of tuples encoded into keys",
		},
	)

	m.KeysDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordkeyd_keys_decoded_total",
			Help: "Total number of keys decoded into elements",
		},
	)

	// Range-iterator metrics
	m.RangeScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordkeyd_range_scans_total",
			Help: "Total number of range-iterator scans started",
		},
	)

	m.RangeResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordkeyd_range_results_total",
			Help: "Total number of records yielded by range-iterator scans",
		},
	)

	m.PrefixScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordkeyd_prefix_scans_total",
			Help: "Total number of prefix-constrained scans started",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordkeyd_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordEngineOperation records a storage-engine operation
func (m *Metrics) RecordEngineOperation(operation string, status string, duration time.Duration) {
	m.EngineOperationsTotal.WithLabelValues(operation, status).Inc()
	m.EngineOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateEngineStats updates database statistics from storage.KV.Stats.
func (m *Metrics) UpdateEngineStats(sizeBytes int64, freePages int) {
	m.EngineSizeBytes.Set(float64(sizeBytes))
	m.EngineFreePagesTotal.Set(float64(freePages))
}
