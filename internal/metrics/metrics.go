// Package metrics exposes Prometheus counters for the offline buffer.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "casebuf"

// Drop reasons recorded on the dropped counter.
const (
	ReasonValidation = "validation"
	ReasonSchema     = "schema"
	ReasonStore      = "store"
)

// Sync pass outcomes recorded on the passes counter.
const (
	OutcomeEmpty     = "empty"
	OutcomeDrained   = "drained"
	OutcomeContended = "contended"
	OutcomeFailed    = "failed"
)

// Metrics groups the buffer collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg prometheus.Gatherer

	Enqueued    prometheus.Counter
	Applied     prometheus.Counter
	Dropped     *prometheus.CounterVec
	Passes      *prometheus.CounterVec
	Quarantined prometheus.Counter
	Pending     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_enqueued_total",
			Help:      "Entries written to the offline queue.",
		}),
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_applied_total",
			Help:      "Queued entries applied to the primary store.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_dropped_total",
			Help:      "Queued entries discarded after a permanent failure.",
		}, []string{"reason"}),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		Quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_quarantined_total",
			Help:      "Queue files moved aside because they failed to load.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_pending",
			Help:      "Entries left in the queue after the last write.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Enqueued, m.Applied, m.Dropped, m.Passes, m.Quarantined, m.Pending} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// IncEnqueued counts an entry appended to the queue.
func (m *Metrics) IncEnqueued() {
	if m != nil {
		m.Enqueued.Inc()
	}
}

// IncApplied counts an entry written to the store.
func (m *Metrics) IncApplied() {
	if m != nil {
		m.Applied.Inc()
	}
}

// IncDropped counts an entry removed after a permanent failure.
func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

// IncPass counts a finished sync pass by outcome.
func (m *Metrics) IncPass(outcome string) {
	if m != nil {
		m.Passes.WithLabelValues(outcome).Inc()
	}
}

// IncQuarantined counts a queue file moved aside.
func (m *Metrics) IncQuarantined() {
	if m != nil {
		m.Quarantined.Inc()
	}
}

// SetPending records the queue length after a save.
func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.Pending.Set(float64(n))
	}
}

// WriteTextfile writes the registered metrics in the text exposition format
// to path, for the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
