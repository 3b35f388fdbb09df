package device

import "github.com/prometheus/client_golang/prometheus"

var (
	usedBytesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "metabert",
			Subsystem: "device",
			Name:      "used_bytes",
			Help:      "Bytes reserved by resident parameter sets.",
		},
		[]string{"device"},
	)
	movesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metabert",
			Subsystem: "device",
			Name:      "moves_total",
			Help:      "Placements of parameter sets onto a device.",
		},
		[]string{"device"},
	)
	cacheClearsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metabert",
			Subsystem: "device",
			Name:      "cache_clears_total",
			Help:      "Device cache flushes.",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(usedBytesGauge, movesTotal, cacheClearsTotal)
}
