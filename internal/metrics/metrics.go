package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// 1) Sync volume
	SyncRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_requests_total",
		Help: "Total number of test-result sync submissions received.",
	})

	// 2) Concurrency (in flight)
	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_requests",
		Help: "Current number of in-flight sync requests.",
	})

	// 3) Sync latency (handler duration)
	SyncDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "End-to-end handler duration for sync submissions.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// 4) Version conflicts absorbed by the recompute
	ConflictsResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conflicts_resolved_total",
		Help: "Sync submissions whose expected version differed from the server's.",
	})

	// 5) Historical-write rejections
	FrozenRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frozen_rejections_total",
		Help: "Sync submissions rejected because the target date was frozen.",
	})

	// 6) Client/server calendar disagreement (diagnostic)
	TimezoneMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timezone_mismatch_total",
		Help: "Submissions whose client-asserted date differed from the canonical date.",
	})

	// 7) Freeze sweeper output
	SummariesFrozenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summaries_frozen_total",
		Help: "Summary rows finalized by the freeze sweeper.",
	})

	// 8) DB write latency
	DBWriteDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_write_duration_seconds",
		Help:    "Duration of the append-and-recompute transaction.",
		Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5},
	})

	// 9) Rate limiting drops
	RateLimitDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_dropped_total",
		Help: "Sync submissions rejected by the per-user rate limiter.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SyncRequestsTotal,
		ActiveRequests,
		SyncDurationSeconds,
		ConflictsResolvedTotal,
		FrozenRejectionsTotal,
		TimezoneMismatchTotal,
		SummariesFrozenTotal,
		DBWriteDurationSeconds,
		RateLimitDroppedTotal,
	)
}
