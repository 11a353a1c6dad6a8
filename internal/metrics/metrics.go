// Package metrics records gate and repair-loop metrics on a private
// Prometheus registry and exports them in node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

const namespace = "qgate"

// Recorder holds the collectors for one process. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// GateDuration observes wall-clock gate durations.
	// Labels: gate, status
	GateDuration *prometheus.HistogramVec

	// Findings is the finding count of the last run per gate.
	// Labels: gate
	Findings *prometheus.GaugeVec

	// ExecutionFailures counts gates that could not run to a usable result.
	// Labels: gate
	ExecutionFailures *prometheus.CounterVec

	// RepairAttempts counts repair attempts by outcome.
	// Labels: outcome
	RepairAttempts *prometheus.CounterVec

	// Escalations counts escalations by code.
	// Labels: code
	Escalations *prometheus.CounterVec

	// Runs counts orchestrator runs by mode and status.
	// Labels: mode, status
	Runs *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		GateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gate_duration_seconds",
				Help:      "Gate command duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"gate", "status"},
		),
		Findings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "findings",
				Help:      "Findings reported by the last run of each gate",
			},
			[]string{"gate"},
		),
		ExecutionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_execution_failures_total",
				Help:      "Gates that crashed, timed out or produced unparseable output",
			},
			[]string{"gate"},
		),
		RepairAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repair_attempts_total",
				Help:      "Repair attempts by outcome",
			},
			[]string{"outcome"},
		),
		Escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Repair escalations by code",
			},
			[]string{"code"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Gate runs by mode and status",
			},
			[]string{"mode", "status"},
		),
	}
	r.registry.MustRegister(r.GateDuration, r.Findings, r.ExecutionFailures, r.RepairAttempts, r.Escalations, r.Runs)
	return r
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveGate records one gate outcome.
func (r *Recorder) ObserveGate(o evidence.GateOutcome) {
	if r == nil || o.Status == evidence.GateSkipped {
		return
	}
	gate := string(o.Gate)
	r.GateDuration.WithLabelValues(gate, string(o.Status)).Observe((time.Duration(o.DurationMs) * time.Millisecond).Seconds())
	r.Findings.WithLabelValues(gate).Set(float64(o.Findings))
	if o.Status == evidence.GateError {
		r.ExecutionFailures.WithLabelValues(gate).Inc()
	}
}

// ObserveRun records a completed orchestrator run.
func (r *Recorder) ObserveRun(res *evidence.RunResult) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(string(res.Mode), string(res.Status())).Inc()
}

// ObserveAttempt records one repair attempt.
func (r *Recorder) ObserveAttempt(outcome evidence.Outcome) {
	if r == nil {
		return
	}
	r.RepairAttempts.WithLabelValues(string(outcome)).Inc()
}

// ObserveEscalation records a terminal escalation.
func (r *Recorder) ObserveEscalation(code evidence.EscalationCode) {
	if r == nil {
		return
	}
	r.Escalations.WithLabelValues(string(code)).Inc()
}

// WriteFile writes every collected metric to path in textfile-collector
// format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
