// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrank"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	MessagesCounted prometheus.Counter
	Flushes         *prometheus.CounterVec
	TaskRuns        *prometheus.CounterVec
	PendingUsers    prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		MessagesCounted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_counted_total",
			Help:      "Messages added to the counter cache",
		}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Cache flushes by result",
		}, []string{"result"}),
		TaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by task and result",
		}, []string{"task", "result"}),
		PendingUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_users",
			Help:      "Users with unflushed counts",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
