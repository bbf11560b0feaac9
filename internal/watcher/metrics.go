package watcher

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "ticks_total",
		Help:      "Watcher loop iterations",
	})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one watcher tick in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	relistsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "relists_total",
		Help:      "Namespace listings published",
	})

	failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "drain_failures_total",
		Help:      "Ticks degraded by a failure, by step",
	}, []string{"op"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "requests_served_total",
		Help:      "Evaluation requests served, by outcome",
	}, []string{"outcome"})

	swapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "kernel_swaps_total",
		Help:      "Kernel clients adopted",
	})

	variablesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kd5",
		Subsystem: "watcher",
		Name:      "snapshot_variables",
		Help:      "Variables in the last published snapshot",
	})
)

func init() {
	prometheus.MustRegister(ticksTotal, tickDuration, relistsTotal, failuresTotal, requestsTotal, swapsTotal, variablesGauge)
}
