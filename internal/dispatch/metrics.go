// ABOUTME: Prometheus collectors for the dispatch service.
// ABOUTME: Counters for exchanges and work flow, a gauge for known agents.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the dispatch-side collectors. Register once per process
// via NewMetrics; the zero value is unusable.
type Metrics struct {
	Checkins         prometheus.Counter
	AgentsRegistered prometheus.Counter
	WorkQueued       prometheus.Counter
	WorkDispatched   prometheus.Counter
	ResultsRecorded  prometheus.Counter
	ActiveListeners  prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostwire",
			Name:      "checkins_total",
			Help:      "Agent check-in exchanges processed.",
		}),
		AgentsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostwire",
			Name:      "agents_registered_total",
			Help:      "Agents registered since start.",
		}),
		WorkQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostwire",
			Name:      "work_queued_total",
			Help:      "Work items queued by operators.",
		}),
		WorkDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostwire",
			Name:      "work_dispatched_total",
			Help:      "Work items handed to agents in check-in responses.",
		}),
		ResultsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostwire",
			Name:      "results_recorded_total",
			Help:      "Work results accepted from agents.",
		}),
		ActiveListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostwire",
			Name:      "active_listeners",
			Help:      "Listeners currently accepting agent traffic.",
		}),
	}
	reg.MustRegister(
		m.Checkins,
		m.AgentsRegistered,
		m.WorkQueued,
		m.WorkDispatched,
		m.ResultsRecorded,
		m.ActiveListeners,
	)
	return m
}
