package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Multiplex metrics
	StoreFailures  *prometheus.CounterVec
	QuorumFailures *prometheus.CounterVec
	PutBytes       *prometheus.HistogramVec

	// Sync queue metrics
	QueueWrites    *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	QueueWriteErrs prometheus.Counter

	// Scrub metrics
	ScrubRepairs *prometheus.CounterVec
	ScrubReports *prometheus.CounterVec

	// Healer metrics
	HealsTotal   *prometheus.CounterVec
	HealDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_requests_total",
				Help: "Total number of blob operations processed",
			},
			[]string{"operation", "outcome"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobmux_request_duration_seconds",
				Help:    "Duration of blob operation processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RequestErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_request_errors_total",
				Help: "Total number of blob operation errors",
			},
			[]string{"operation", "error_type"},
		),

		StoreFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_store_failures_total",
				Help: "Total number of backing store failures",
			},
			[]string{"store_id", "operation"},
		),

		QuorumFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_quorum_failures_total",
				Help: "Total number of operations that missed quorum",
			},
			[]string{"operation"},
		),

		PutBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobmux_put_bytes",
				Help:    "Size distribution of stored blobs",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"outcome"},
		),

		QueueWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_sync_queue_writes_total",
				Help: "Total number of sync queue entries written",
			},
			[]string{"store_id"},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobmux_sync_queue_depth",
				Help: "Number of live sync queue entries",
			},
		),

		QueueWriteErrs: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blobmux_sync_queue_write_errors_total",
				Help: "Total number of failed sync queue writes",
			},
		),

		ScrubRepairs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_scrub_repairs_total",
				Help: "Total number of scrub-triggered repair writes",
			},
			[]string{"store_id", "outcome"},
		),

		ScrubReports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_scrub_reports_total",
				Help: "Total number of scrub findings reported without repair",
			},
			[]string{"store_id"},
		),

		HealsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobmux_heals_total",
				Help: "Total number of healer repair attempts",
			},
			[]string{"outcome"},
		),

		HealDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobmux_heal_duration_seconds",
				Help:    "Duration of individual heal operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}
