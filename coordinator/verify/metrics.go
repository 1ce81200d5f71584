package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ceremony_verifications_total",
		Help: "Count of contribution verifications by result.",
	}, []string{"result"})
	verificationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ceremony_verification_duration_seconds",
		Help:    "Wall-clock duration of contribution verifications.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
