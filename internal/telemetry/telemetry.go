// Package telemetry counts stage and item outcomes on a private Prometheus
// registry and writes them as a node_exporter textfile after each run.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"restorebench/internal/pipeline"
)

const namespace = "restorebench"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry        *prometheus.Registry
	items           *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageOutcomes   *prometheus.CounterVec
	validationDiffs *prometheus.CounterVec
	runs            *prometheus.CounterVec
	lastRunSuccess  prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Work items processed per stage by status",
		}, []string{"stage", "status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of stage executions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		stageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage executions by outcome",
		}, []string{"stage", "outcome"}),
		validationDiffs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_diffs_total",
			Help:      "Validation gate differences by stage and kind",
		}, []string{"stage", "kind"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline invocations by final state",
		}, []string{"state"}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 when the most recent run completed, 0 when it aborted",
		}),
	}
}

// Registry exposes the underlying gatherer.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveItem counts one finished work item.
func (m *Metrics) ObserveItem(stage pipeline.StageID, status string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(stage), status).Inc()
}

// ObserveStage records a stage's wall time.
func (m *Metrics) ObserveStage(stage pipeline.StageID, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// ObserveOutcome counts a stage ending as completed, failed, or skipped.
func (m *Metrics) ObserveOutcome(stage pipeline.StageID, outcome string) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(string(stage), outcome).Inc()
}

// ObserveDiffs adds validation differences of one kind.
func (m *Metrics) ObserveDiffs(stage pipeline.StageID, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.validationDiffs.WithLabelValues(string(stage), kind).Add(float64(n))
}

// ObserveRun records the final state of a pipeline invocation.
func (m *Metrics) ObserveRun(state string, success bool) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// WriteTextfile writes every collected metric in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
