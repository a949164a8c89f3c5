// Package metrics exposes Prometheus collectors for session and bridge
// activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the SDK's Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	commandsSent  *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	events        *prometheus.CounterVec
	waits         *prometheus.CounterVec
	inFlight      prometheus.Gauge
	calls         *prometheus.HistogramVec
}

// New creates a collector and registers it with reg. A nil registerer
// leaves the collectors unregistered (useful in tests).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exsi_commands_sent_total",
				Help: "Commands written to the controller.",
			},
			[]string{"command"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exsi_command_errors_total",
				Help: "Commands that were rejected locally or failed at the controller.",
			},
			[]string{"command", "reason"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exsi_events_received_total",
				Help: "Controller events by kind.",
			},
			[]string{"kind"},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exsi_waits_total",
				Help: "WaitFor outcomes by signal.",
			},
			[]string{"signal", "result"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exsi_command_in_flight",
				Help: "1 while a command awaits its acknowledgement.",
			},
		),
		calls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exsi_bridge_call_duration_seconds",
				Help:    "Duration of bridge calls by method and outcome.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"method", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(c.commandsSent, c.commandErrors, c.events, c.waits, c.inFlight, c.calls)
	}

	return c
}

// CommandSent records a command written to the transport.
func (c *Collector) CommandSent(command string) {
	if c == nil {
		return
	}

	c.commandsSent.WithLabelValues(command).Inc()
	c.inFlight.Set(1)
}

// CommandResolved records that the in-flight slot was released.
func (c *Collector) CommandResolved() {
	if c == nil {
		return
	}

	c.inFlight.Set(0)
}

// CommandError records a command that did not complete.
func (c *Collector) CommandError(command, reason string) {
	if c == nil {
		return
	}

	c.commandErrors.WithLabelValues(command, reason).Inc()
}

// Event records one classified controller event.
func (c *Collector) Event(kind string) {
	if c == nil {
		return
	}

	c.events.WithLabelValues(kind).Inc()
}

// Wait records the outcome of a WaitFor call.
func (c *Collector) Wait(signal, result string) {
	if c == nil {
		return
	}

	c.waits.WithLabelValues(signal, result).Inc()
}

// Call records one bridge call.
func (c *Collector) Call(method, outcome string, d time.Duration) {
	if c == nil {
		return
	}

	c.calls.WithLabelValues(method, outcome).Observe(d.Seconds())
}
