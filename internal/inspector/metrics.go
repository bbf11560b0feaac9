package inspector

import "github.com/prometheus/client_golang/prometheus"

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kd5",
			Subsystem: "inspector",
			Name:      "queries_total",
			Help:      "Remote queries by kind and outcome.",
		},
		[]string{"query", "outcome"},
	)
	waitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kd5",
			Subsystem: "inspector",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for an artifact.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal, waitSeconds)
}
