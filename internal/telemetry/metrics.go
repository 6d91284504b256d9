// Package telemetry exposes Prometheus counters for flows and the terminal.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richmaes/guitaracc/internal/flow"
)

// Metrics holds the console's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	responseBytes  *prometheus.CounterVec
	emptyResponses *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	terminalBytes  *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guitaracc_commands_total",
				Help: "Commands sent to the basestation by flows",
			},
			[]string{"flow"},
		),
		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guitaracc_response_bytes_total",
				Help: "Bytes received in command responses",
			},
			[]string{"flow"},
		),
		emptyResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guitaracc_empty_responses_total",
				Help: "Commands whose response window closed with no bytes",
			},
			[]string{"flow"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guitaracc_step_duration_seconds",
				Help:    "Time from write to end of response collection",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"flow"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guitaracc_flow_outcomes_total",
				Help: "Flow runs by result",
			},
			[]string{"flow", "result"},
		),
		terminalBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guitaracc_terminal_bytes_total",
				Help: "Bytes passed through the interactive terminal",
			},
			[]string{"direction"},
		),
	}

	m.registry.MustRegister(
		m.commands,
		m.responseBytes,
		m.emptyResponses,
		m.stepDuration,
		m.outcomes,
		m.terminalBytes,
	)
	return m
}

// ObserveStep implements flow.Observer.
func (m *Metrics) ObserveStep(name string, r flow.StepResult) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
	m.responseBytes.WithLabelValues(name).Add(float64(len(r.Response.Data)))
	if r.Response.Empty() {
		m.emptyResponses.WithLabelValues(name).Inc()
	}
	m.stepDuration.WithLabelValues(name).Observe(r.Response.Elapsed.Seconds())
}

// ObserveOutcome implements flow.Observer.
func (m *Metrics) ObserveOutcome(o flow.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o.Flow, Result(o)).Inc()
}

// TerminalIn counts device-to-operator bytes.
func (m *Metrics) TerminalIn(n int) {
	if m == nil {
		return
	}
	m.terminalBytes.WithLabelValues("in").Add(float64(n))
}

// TerminalOut counts operator-to-device bytes.
func (m *Metrics) TerminalOut(n int) {
	if m == nil {
		return
	}
	m.terminalBytes.WithLabelValues("out").Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values to path in the text exposition
// format read by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Result classifies an outcome for the result label.
func Result(o flow.Outcome) string {
	switch {
	case o.Aborted():
		return "aborted"
	case !o.Completed:
		return "failed"
	case o.Passed():
		return "passed"
	default:
		return "unmatched"
	}
}
