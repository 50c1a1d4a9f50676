// Package metrics exposes unit state and activity as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openunitstate/unitd/internal/logic"
)

const namespace = "unitd"

var modes = []logic.Mode{
	logic.ModeRequiresAuth,
	logic.ModePushToUnlock,
	logic.ModePermanentlyUnlocked,
	logic.ModeAwaitingUpdate,
	logic.ModeCheckInStation,
}

// Metrics holds the unit's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	commands    *prometheus.CounterVec
	events      *prometheus.CounterVec
	reconnects  prometheus.Counter
	lock        prometheus.Gauge
	maintenance prometheus.Gauge
	mode        *prometheus.GaugeVec
	connected   prometheus.Gauge
	pending     prometheus.Gauge
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by suffix and result.",
		}, []string{"suffix", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Outbound events by type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_connects_total",
			Help:      "Successful broker connections.",
		}),
		lock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_engaged",
			Help:      "1 when the lock is engaged.",
		}),
		maintenance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance",
			Help:      "1 when the unit is in maintenance.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "1 for the current operating mode.",
		}, []string{"mode"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 when the broker connection is up.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_pending_events",
			Help:      "Outbound events buffered while disconnected.",
		}),
	}

	m.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.commands, m.events, m.reconnects,
		m.lock, m.maintenance, m.mode,
		m.connected, m.pending,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveCommand counts an inbound command. Unknown suffixes share one
// label value.
func (m *Metrics) ObserveCommand(suffix string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, logic.ErrUnknownCommand):
		suffix, result = "unknown", "unknown"
	case err != nil:
		result = "rejected"
	}
	m.commands.WithLabelValues(suffix, result).Inc()
}

// ObserveEvents counts outbound events.
func (m *Metrics) ObserveEvents(events []logic.Event) {
	for _, e := range events {
		m.events.WithLabelValues(string(e.Type)).Inc()
	}
}

// ObserveState records the controller state.
func (m *Metrics) ObserveState(st logic.State) {
	m.lock.Set(boolGauge(st.LockEngaged))
	m.maintenance.Set(boolGauge(st.Maintenance))
	for _, mode := range modes {
		m.mode.WithLabelValues(mode.String()).Set(boolGauge(mode == st.Mode))
	}
}

// ObserveTransport records the broker connection state.
func (m *Metrics) ObserveTransport(connected bool, pending int) {
	m.connected.Set(boolGauge(connected))
	m.pending.Set(float64(pending))
}

// ObserveConnect counts a successful broker connection.
func (m *Metrics) ObserveConnect() {
	m.reconnects.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
