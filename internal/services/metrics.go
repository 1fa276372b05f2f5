// Package services – digest metrics
//
// Prometheus collectors for scheduler passes. Label values are drawn from
// small fixed sets to keep cardinality bounded:
//
//   - outcome: "ok", "empty", "error", "cancelled"
//   - result:  "success", "failed", "skipped"
//   - status:  push ticket status ("ok", "error")
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	digestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_runs_total",
			Help: "Scheduler passes by outcome.",
		},
		[]string{"outcome"},
	)

	digestUsers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_users_total",
			Help: "Per-user digest processing results.",
		},
		[]string{"result"},
	)

	digestNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_notifications_total",
			Help: "Push notification tickets by status.",
		},
		[]string{"status"},
	)

	// Passes are paced per user, so buckets extend well past HTTP latencies.
	digestRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_run_duration_seconds",
			Help:    "Wall-clock duration of a scheduler pass.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)

func init() {
	prometheus.MustRegister(digestRuns, digestUsers, digestNotifications, digestRunDuration)
}
