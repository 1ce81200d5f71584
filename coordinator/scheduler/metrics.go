package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ceremony_participant_timeouts_total",
	Help: "Count of participants timed out while holding a circuit queue head.",
}, []string{"kind"})
