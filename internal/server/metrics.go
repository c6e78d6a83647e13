package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine-facing Prometheus collectors. Each server carries
// its own registry so multiple instances (tests) never collide.
type metrics struct {
	registry  *prometheus.Registry
	analyses  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "analyses_total",
			Help:      "Completed engine operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "analysis_duration_seconds",
			Help:      "Engine operation latency by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (m *metrics) observe(kind, outcome string, seconds float64) {
	m.analyses.WithLabelValues(kind, outcome).Inc()
	m.durations.WithLabelValues(kind).Observe(seconds)
}
