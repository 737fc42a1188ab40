package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts completed requests by terminal status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_requests_total",
			Help: "Completed query requests by terminal status.",
		},
		[]string{"status"},
	)

	// RequestDuration observes end-to-end request latency.
	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlscout_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ValidationRejections counts validator rejections by violation
	// kind.
	ValidationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_validation_rejections_total",
			Help: "Validator rejections by violation kind.",
		},
		[]string{"kind"},
	)

	// GenerationAttempts counts backend generation calls by outcome.
	GenerationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_generation_attempts_total",
			Help: "Generation backend calls by outcome.",
		},
		[]string{"outcome"},
	)

	// RowsReturned observes result set sizes after the row cap.
	RowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlscout_rows_returned",
			Help:    "Rows returned per successful request.",
			Buckets: []float64{1, 10, 100, 1000, 10000},
		},
	)

	// IndexRebuilds counts schema index generation swaps.
	IndexRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscout_index_rebuilds_total",
			Help: "Schema index generation rebuilds.",
		},
	)

	// AuditDropped counts audit records dropped because the sink
	// buffer was full.
	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscout_audit_dropped_total",
			Help: "Audit records dropped due to a full buffer.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ValidationRejections,
		GenerationAttempts,
		RowsReturned,
		IndexRebuilds,
		AuditDropped,
	)
}

// Handler returns the metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
