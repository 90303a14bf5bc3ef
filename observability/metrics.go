// Package observability exposes the engine's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recalculationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "club_activity",
		Subsystem: "workflow",
		Name:      "recalculations_total",
		Help:      "Number of record recalculations grouped by outcome (recomputed, skipped, failed).",
	}, []string{"outcome"})

	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "club_activity",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Number of lock/approve attempts grouped by target state and result.",
	}, []string{"to", "result"})

	distributedPoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "club_activity",
		Subsystem: "rewards",
		Name:      "distributed_points_total",
		Help:      "Reward points handed to the distribution gateway, by award level.",
	}, []string{"level"})

	gatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "club_activity",
		Subsystem: "rewards",
		Name:      "gateway_duration_seconds",
		Help:      "Latency of distribution gateway calls grouped by result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	bulkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "club_activity",
		Subsystem: "workflow",
		Name:      "bulk_recalculation_duration_seconds",
		Help:      "Duration of recalculate-all runs.",
		Buckets:   prometheus.DefBuckets,
	})

	lastBulkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "club_activity",
		Subsystem: "workflow",
		Name:      "last_bulk_recalculation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed recalculate-all run.",
	})
)

func init() {
	prometheus.MustRegister(
		recalculationCounter,
		transitionCounter,
		distributedPoints,
		gatewayDuration,
		bulkDuration,
		lastBulkGauge,
	)
}

// RecordRecalculation counts one per-club recalculation outcome.
func RecordRecalculation(outcome string) {
	recalculationCounter.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a lock or approve attempt. result is "ok",
// "conflict" or "error".
func RecordTransition(to, result string) {
	transitionCounter.WithLabelValues(to, result).Inc()
}

// RecordDistribution observes a gateway call and, on success, the points
// it credited.
func RecordDistribution(level string, points int64, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(result).Observe(took.Seconds())
	if err == nil && points > 0 {
		if level == "" {
			level = "NONE"
		}
		distributedPoints.WithLabelValues(level).Add(float64(points))
	}
}

// RecordBulkRun observes a completed recalculate-all run.
func RecordBulkRun(started, finished time.Time) {
	bulkDuration.Observe(finished.Sub(started).Seconds())
	if !finished.IsZero() {
		lastBulkGauge.Set(float64(finished.Unix()))
	}
}
