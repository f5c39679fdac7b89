// Package metrics exposes the controller's internal health as Prometheus
// instrumentation: how long each tick takes, how commands resolve, how
// large the model is, and how often a supervised worker has failed.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tidalsync",
		Subsystem: "controller",
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one Controller.Process() call.",
		Buckets:   prometheus.DefBuckets,
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tidalsync",
		Subsystem: "controller",
		Name:      "commands_total",
		Help:      "Commands dispatched, by action and outcome.",
	}, []string{"action", "outcome"})

	ModelSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tidalsync",
		Subsystem: "controller",
		Name:      "model_files",
		Help:      "Number of top-level files currently tracked by the model.",
	})

	WorkerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tidalsync",
		Subsystem: "controller",
		Name:      "worker_failures_total",
		Help:      "Fatal worker exceptions observed, by worker name.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(TickDuration, CommandsTotal, ModelSize, WorkerRestarts)
}
