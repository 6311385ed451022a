package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"restorebench/internal/pipeline"
	"restorebench/internal/stage"
	"restorebench/internal/telemetry"
)

var _ stage.Observer = (*telemetry.Metrics)(nil)

func TestWriteTextfile(t *testing.T) {
	m := telemetry.New()
	m.ObserveItem(pipeline.StageDegrade, "ok")
	m.ObserveItem(pipeline.StageDegrade, "ok")
	m.ObserveItem(pipeline.StageDegrade, "failed")
	m.ObserveStage(pipeline.StageDegrade, 250*time.Millisecond)
	m.ObserveOutcome(pipeline.StageDegrade, "completed")
	m.ObserveDiffs(pipeline.StageDegrade, "missing", 3)
	m.ObserveDiffs(pipeline.StageDegrade, "extra", 0)
	m.ObserveRun("complete", true)

	path := filepath.Join(t.TempDir(), "logs", "metrics.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`restorebench_stage_items_total{stage="degrade",status="ok"} 2`,
		`restorebench_stage_items_total{stage="degrade",status="failed"} 1`,
		`restorebench_stage_duration_seconds_count{stage="degrade"} 1`,
		`restorebench_validation_diffs_total{kind="missing",stage="degrade"} 3`,
		`restorebench_runs_total{state="complete"} 1`,
		`restorebench_last_run_success 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, `kind="extra"`) {
		t.Fatal("zero diff count should not create a series")
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *telemetry.Metrics
	m.ObserveItem(pipeline.StageScore, "ok")
	m.ObserveRun("aborted", false)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatal(err)
	}
}
