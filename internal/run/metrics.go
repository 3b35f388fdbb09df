package run

import "github.com/prometheus/client_golang/prometheus"

var (
	metaSteps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "metabert",
		Subsystem: "run",
		Name:      "meta_steps_total",
		Help:      "Completed meta-training steps.",
	})
	evaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "metabert",
		Subsystem: "run",
		Name:      "evaluations_total",
		Help:      "Completed meta-test evaluations.",
	})
	checkpoints = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "metabert",
		Subsystem: "run",
		Name:      "checkpoints_total",
		Help:      "Encoder checkpoints written.",
	})
	lastMetric = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metabert",
		Subsystem: "run",
		Name:      "last_metric",
		Help:      "Most recent metric by kind (train, test, forgetting).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(metaSteps, evaluations, checkpoints, lastMetric)
}
