// Package metrics exposes Prometheus instrumentation for the
// reconciliation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckinsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doorlist_checkins_applied_total",
		Help: "Total number of check-in events that changed guest state.",
	})

	CheckinsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doorlist_checkins_superseded_total",
		Help: "Total number of valid check-in events kept out by an earlier arrival.",
	})

	CheckinsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doorlist_checkins_failed_total",
		Help: "Total number of rejected check-in events, labelled by reason.",
	}, []string{"reason"})

	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doorlist_conflicts_detected_total",
		Help: "Total number of conflicts detected during resolution, labelled by reason.",
	}, []string{"reason"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doorlist_rate_limited_total",
		Help: "Total number of sync requests rejected by the rate limiter.",
	})

	SyncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doorlist_sync_batch_size",
		Help:    "Number of check-in events per sync batch.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
	})
)
