package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "taskhub"

var (
	TaskCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_created_total",
			Help:      "Total number of tasks posted.",
		},
	)

	TaskClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_claimed_total",
			Help:      "Total number of tasks claimed by agents.",
		},
	)

	TaskReviewedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_reviewed_total",
			Help:      "Total number of review decisions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	SettlementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_total",
			Help:      "Total number of settlement attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	SettlementLegTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_leg_total",
			Help:      "Total number of payout transfer legs, labeled by leg and outcome.",
		},
		[]string{"leg", "outcome"},
	)

	SettlementLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_latency_seconds",
			Help:      "Wall-clock latency of a full settlement attempt including confirmations (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter, labeled by scope and operation.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		TaskCreatedTotal,
		TaskClaimedTotal,
		TaskReviewedTotal,
		SettlementTotal,
		SettlementLegTotal,
		SettlementLatencySeconds,
		RateLimitHitsTotal,
	)
}
