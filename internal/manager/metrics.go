package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"imaged/pkg/types"
)

var (
	metricEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "events_total",
			Help:      "Worker events processed, by kind",
		},
		[]string{"kind"},
	)

	metricDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "jobs_dispatched_total",
			Help:      "Jobs forwarded to a worker",
		},
	)

	metricDroppedSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "dropped_signals_total",
			Help:      "New-job signals that did not lead to a dispatch",
		},
		[]string{"reason"},
	)

	metricSpawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "spawn_failures_total",
			Help:      "Worker processes that failed to start",
		},
	)

	metricBrokerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "subscriber_events_dropped_total",
			Help:      "Events not delivered to a subscriber whose buffer was full",
		},
	)

	metricWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "imaged",
			Subsystem: "supervisor",
			Name:      "workers",
			Help:      "Live workers by registry state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(metricEvents, metricDispatched, metricDroppedSignals, metricSpawnFailures, metricBrokerDropped, metricWorkers)
}

var gaugeStates = []types.GeneratorStatus{
	types.GeneratorStarting, types.GeneratorReady, types.GeneratorBusy,
	types.GeneratorClosing, types.GeneratorFailed,
}

func (m *Manager) updateStateGauge() {
	counts := make(map[types.GeneratorStatus]int, len(gaugeStates))
	for _, v := range m.reg.snapshot() {
		counts[v.State]++
	}
	for _, s := range gaugeStates {
		metricWorkers.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
