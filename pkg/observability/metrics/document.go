package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "document_operation_duration_seconds",
			Help:    "Duration of document store operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_operations_total",
			Help: "Total number of document store operations by result.",
		},
		[]string{"collection", "operation", "status"},
	)
)

// ObserveOperation records one document store operation. Status is "ok",
// "not_found", "duplicate_key", or "error" depending on the outcome.
func ObserveOperation(collection, operation, status string, d time.Duration) {
	operationDuration.WithLabelValues(collection, operation).Observe(d.Seconds())
	operationsTotal.WithLabelValues(collection, operation, status).Inc()
}
