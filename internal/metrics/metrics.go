// Package metrics exposes the factory orchestrator's live state as
// Prometheus gauges (SPEC_FULL.md §D). Purely observational: nothing here
// gates dispatch or convergence.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	ActiveWorkers prometheus.Gauge
	QueueDepth    prometheus.Gauge
	InProgress    prometheus.Gauge
	SlotBackoff   *prometheus.GaugeVec
	SlotHeld      *prometheus.GaugeVec
	TasksDone     prometheus.Counter
	MergeConflict prometheus.Counter

	registry *prometheus.Registry
}

// New registers a fresh set of collectors against its own registry, so
// multiple orchestrator instances in tests don't collide on the default
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_factory_active_workers",
			Help: "Number of workers currently executing a task.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_factory_queue_depth",
			Help: "Number of tasks waiting to be dispatched.",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_factory_in_progress",
			Help: "Number of tasks currently assigned to a worker.",
		}),
		SlotBackoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ralph_factory_slot_backoff",
			Help: "1 if the provider:model slot is currently in backoff, else 0.",
		}, []string{"slot"}),
		SlotHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ralph_factory_slot_held",
			Help: "Number of concurrency holds currently in use per provider:model slot.",
		}, []string{"slot"}),
		TasksDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_factory_tasks_completed_total",
			Help: "Total tasks successfully merged onto trunk.",
		}),
		MergeConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_factory_merge_conflicts_total",
			Help: "Total cherry-pick conflicts encountered.",
		}),
	}

	reg.MustRegister(m.ActiveWorkers, m.QueueDepth, m.InProgress, m.SlotBackoff, m.SlotHeld, m.TasksDone, m.MergeConflict)
	m.registry = reg
	return m
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks; callers
// run it in its own goroutine and ignore the error once the orchestrator is
// shutting down.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

// SetSlotState records whether a slot key is currently in backoff and how
// many holds are outstanding on it.
func (m *Metrics) SetSlotState(key string, held int, inBackoff bool) {
	m.SlotHeld.WithLabelValues(key).Set(float64(held))
	backoff := 0.0
	if inBackoff {
		backoff = 1.0
	}
	m.SlotBackoff.WithLabelValues(key).Set(backoff)
}
