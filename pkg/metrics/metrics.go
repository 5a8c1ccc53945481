package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Delivery queue metrics
	EmailsSent      prometheus.Counter
	EmailsFailed    prometheus.Counter
	EmailsExhausted prometheus.Counter
	SweepDuration   prometheus.Histogram
	QueueDueSize    prometheus.Gauge

	// Verification metrics
	CodesIssued    prometheus.Counter
	CodesVerified  prometheus.Counter
	CodeMismatches prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		EmailsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Total number of emails delivered successfully",
		}),
		EmailsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_failed_total",
			Help:      "Total number of failed delivery attempts",
		}),
		EmailsExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_exhausted_total",
			Help:      "Total number of emails that used up their attempt budget",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent processing the delivery queue",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		QueueDueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_due_size",
			Help:      "Number of records selected by the last sweep",
		}),
		CodesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_codes_issued_total",
			Help:      "Total number of verification codes issued",
		}),
		CodesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_codes_verified_total",
			Help:      "Total number of codes verified successfully",
		}),
		CodeMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_code_mismatches_total",
			Help:      "Total number of wrong code submissions",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewUnregistered creates metrics without registering them, for tests that
// construct more than one service instance.
func NewUnregistered(namespace string) *Metrics {
	return &Metrics{
		EmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emails_sent_total",
		}),
		EmailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emails_failed_total",
		}),
		EmailsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emails_exhausted_total",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
		}),
		QueueDueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_due_size",
		}),
		CodesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "verification_codes_issued_total",
		}),
		CodesVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "verification_codes_verified_total",
		}),
		CodeMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "verification_code_mismatches_total",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
