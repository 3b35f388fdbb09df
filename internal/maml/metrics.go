package maml

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metabert",
			Subsystem: "maml",
			Name:      "tasks_total",
			Help:      "Tasks processed by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)
	optimizerSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metabert",
			Subsystem: "maml",
			Name:      "optimizer_steps_total",
			Help:      "Optimizer steps by phase and parameter group.",
		},
		[]string{"phase", "group"},
	)
	supportLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "metabert",
			Subsystem: "maml",
			Name:      "support_loss",
			Help:      "Mean support loss of the most recent inner pass.",
		},
		[]string{"phase"},
	)
	queryMetric = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metabert",
			Subsystem: "maml",
			Name:      "query_metric",
			Help:      "Per-task query metric (accuracy or Pearson correlation).",
			Buckets:   prometheus.LinearBuckets(-1, 0.1, 21),
		},
		[]string{"phase"},
	)
	taskSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metabert",
			Subsystem: "maml",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent on one task.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"phase"},
	)
)

const (
	phaseTrain      = "train"
	phaseTest       = "test"
	phaseForgetting = "forgetting"
)

func init() {
	prometheus.MustRegister(tasksTotal, optimizerSteps, supportLoss, queryMetric, taskSeconds)
}
