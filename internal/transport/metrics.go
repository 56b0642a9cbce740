package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dbc"

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Inbound mint requests by type and outcome",
		},
		[]string{"type", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Inbound request handling time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	peersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "peers",
			Help:      "Connected peers",
		},
	)

	announcedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "spent_proofs_announced_total",
			Help:      "Spent proofs published on the gossip topic",
		},
	)

	announceDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "spent_announcements_dropped_total",
			Help:      "Spent proof batches dropped because the publish queue was full",
		},
	)
)
