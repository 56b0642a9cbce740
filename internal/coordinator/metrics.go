package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbc",
			Subsystem: "coordinator",
			Name:      "rounds_total",
			Help:      "Quorum rounds by operation and outcome",
		},
		[]string{"op", "result"},
	)

	roundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbc",
			Subsystem: "coordinator",
			Name:      "round_duration_seconds",
			Help:      "Time to reach a quorum",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	mintLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbc",
			Subsystem: "coordinator",
			Name:      "mint_request_seconds",
			Help:      "Per-mint request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
