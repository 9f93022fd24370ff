package extract

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stripd/pkg/types"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stripd",
			Subsystem: "extract",
			Name:      "runs_total",
			Help:      "Total brain-extraction runs by terminal state",
		},
		[]string{"state"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stripd",
			Subsystem: "extract",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of brain-extraction runs",
			// CPU inference routinely takes minutes.
			Buckets: []float64{1, 5, 15, 60, 180, 600, 1800},
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration)
}

func observeRun(state types.RunState, d time.Duration) {
	runsTotal.WithLabelValues(string(state)).Inc()
	runDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}
