package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	NotificationsSent      *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec
	SendLatency            *prometheus.HistogramVec
	AlternateNoticesIssued prometheus.Counter

	// Status poller metrics
	StatusChecksTotal    *prometheus.CounterVec
	PollBatchesProcessed prometheus.Counter
	PollRunDuration      prometheus.Histogram
	PendingNotifications prometheus.Gauge

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Broker and webhook metrics
	EventsPublished  *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	ReturnedCallback *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications accepted by the provider",
		}, []string{"channel"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_failed_total",
			Help:      "Total number of notifications the provider rejected at send time",
		}, []string{"channel"}),
		SendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_duration_seconds",
			Help:      "Time spent on a single provider send call",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		AlternateNoticesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alternate_notices_issued_total",
			Help:      "Total number of compensating letter notices generated",
		}),

		StatusChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_checks_total",
			Help:      "Total number of provider status lookups",
		}, []string{"outcome"}),
		PollBatchesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_batches_processed_total",
			Help:      "Total number of status-poll batches processed",
		}),
		PollRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_run_duration_seconds",
			Help:      "Time spent on a full status-poll run",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),
		PendingNotifications: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_notifications",
			Help:      "Number of notifications still pending at the start of the last poll run",
		}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of status-transition events published to the broker",
		}, []string{"channel"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_failures_total",
			Help:      "Total number of failed broker publishes",
		}),
		ReturnedCallback: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "returned_letter_callbacks_total",
			Help:      "Total number of returned-letter callbacks received",
		}, []string{"outcome"}),
	}
}
