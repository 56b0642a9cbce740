package mint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "dbc"
	subsystem        = "mint"
)

var (
	reissueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "reissue_requests_total",
			Help:      "Reissue requests by outcome",
		},
		[]string{"result"},
	)

	reissueDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "reissue_duration_seconds",
			Help:      "Time to validate, log and sign a reissue",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	keyImagesLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "key_images_logged_total",
			Help:      "Key images written to the spentbook",
		},
	)

	genesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "genesis_requests_total",
			Help:      "Genesis requests by outcome",
		},
		[]string{"result"},
	)
)
