// Package metrics holds the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics carries the service's instruments on its own registry, so
// constructing it never collides with another registration.
type Metrics struct {
	Registry *prometheus.Registry

	PurchasesApplied   prometheus.Counter
	ExecutionsTotal    *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	EngineDuration     prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PurchasesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "purchases_applied_total",
			Help:      "Gateway captures credited to an account.",
		}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "executions_total",
			Help:      "Agent executions by terminal status.",
		}, []string{"status"}),
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "rate_limit_decisions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		EngineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "creditledger",
			Name:      "engine_run_duration_seconds",
			Help:      "Wall time of workflow engine runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
