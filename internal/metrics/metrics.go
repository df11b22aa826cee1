// Package metrics exports workflow engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reimburse_flow"

// Metrics implements engine.Recorder
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	finished     *prometheus.CounterVec
	tasksCreated *prometheus.CounterVec
	hookFailures *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by flow key, operation and result kind.",
		}, []string{"flow_key", "operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow_key", "operation"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_finished_total",
			Help:      "Instances reaching a terminal status.",
		}, []string{"flow_key", "status"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created at task nodes.",
		}, []string{"flow_key"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Lifecycle hooks that returned an error or panicked.",
		}, []string{"flow_key", "hook"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.finished,
		m.tasksCreated,
		m.hookFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts one facade call
func (m *Metrics) ObserveOperation(flowKey, operation string, err error, elapsed time.Duration) {
	result := "OK"
	if err != nil {
		result = string(engine.KindOf(err))
	}
	m.operations.WithLabelValues(flowKey, operation, result).Inc()
	m.duration.WithLabelValues(flowKey, operation).Observe(elapsed.Seconds())
}

// InstanceFinished counts an instance reaching END, REJECTED or CANCELLED
func (m *Metrics) InstanceFinished(flowKey string, status entity.Status) {
	m.finished.WithLabelValues(flowKey, string(status)).Inc()
}

// TasksCreated counts tasks created at one node
func (m *Metrics) TasksCreated(flowKey string, n int) {
	m.tasksCreated.WithLabelValues(flowKey).Add(float64(n))
}

// HookFailed counts a failed lifecycle hook
func (m *Metrics) HookFailed(flowKey, hook string) {
	m.hookFailures.WithLabelValues(flowKey, hook).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Verify interface compliance
var _ engine.Recorder = (*Metrics)(nil)
