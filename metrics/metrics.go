// Package metrics exposes Prometheus instrumentation for ingestion, queries,
// the integrity pass and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	FramesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_frames_ingested_total",
			Help: "Total number of frames ingested successfully",
		},
	)

	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_ingest_failures_total",
			Help: "Total number of failed ingestions by failure class",
		},
		[]string{"reason"}, // "config", "malformed", "compress", "storage", "other"
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_ingest_duration_seconds",
			Help:    "Duration of a single frame ingestion in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	CompressDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_compress_duration_seconds",
			Help:    "Duration of external compressor runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_ingest_queue_depth",
			Help: "Number of files waiting in the ingest worker pool",
		},
	)

	// Catalog Metrics
	FramesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_frames_deleted_total",
			Help: "Total number of frames removed from the catalog",
		},
		[]string{"source"}, // "api", "cli", "integrity"
	)

	IntegrityMissing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_integrity_missing_files",
			Help: "Frames found without a backing file by the last integrity pass",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Auth Metrics
	AuthLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_auth_lookups_total",
			Help: "Token lookups against the profile endpoint by result",
		},
		[]string{"result"}, // "ok", "denied", "error", "open_circuit"
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_websocket_connections",
			Help: "Current number of realtime websocket clients",
		},
	)
)

// RecordIngest records the outcome of one ingestion.
func RecordIngest(duration time.Duration, reason string) {
	IngestDuration.Observe(duration.Seconds())
	if reason == "" {
		FramesIngested.Inc()
		return
	}
	IngestFailures.WithLabelValues(reason).Inc()
}

// RecordCompress records an external compressor run.
func RecordCompress(duration time.Duration) {
	CompressDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
