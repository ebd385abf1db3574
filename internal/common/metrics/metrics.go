// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemindersChecked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_checked_total",
			Help: "Total number of reminders evaluated by the matcher",
		},
	)

	RemindersMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_matched_total",
			Help: "Total number of reminders that passed all matching filters",
		},
	)

	PushesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushes_sent_total",
			Help: "Total number of push notifications delivered",
		},
	)

	PushesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushes_failed_total",
			Help: "Total number of push deliveries that failed",
		},
		[]string{"reason"},
	)

	SubscriptionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_pruned_total",
			Help: "Total number of dead push subscriptions deleted",
		},
	)

	DeliveryRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_run_duration_seconds",
			Help:    "Duration of complete delivery runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	QueueJobsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_completed_total",
			Help: "Total number of queue jobs processed successfully",
		},
	)

	QueueJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_failed_total",
			Help: "Total number of queue jobs that failed",
		},
		[]string{"error_code"},
	)

	QueueJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_jobs_active",
			Help: "Number of queue jobs currently being processed",
		},
	)
)
