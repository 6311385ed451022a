package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"restorebench/internal/blob"
	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/ledger"
	"restorebench/internal/orchestrator"
	"restorebench/internal/pipeline"
	"restorebench/internal/provenance"
	"restorebench/internal/services"
	"restorebench/internal/telemetry"
	"restorebench/internal/testsupport"
	"restorebench/internal/validate"
)

func fixedEnv() provenance.Environment {
	return provenance.Environment{OS: "linux", Arch: "amd64", GoVersion: "go-test", Capabilities: map[string]string{}}
}

type fixture struct {
	cfg     *config.Config
	ledger  *ledger.Store
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.WriteDataset(t, cfg, testsupport.ScenarioIDs...)
	return &fixture{cfg: cfg, ledger: testsupport.MustOpenLedger(t, cfg), metrics: telemetry.New()}
}

func (f *fixture) orchestrator(t *testing.T, caps *capability.Set, mirror *blob.Mirror) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Deps{
		Config:       f.cfg,
		Capabilities: caps,
		Mirror:       mirror,
		Ledger:       f.ledger,
		Metrics:      f.metrics,
		Environment:  fixedEnv,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func all(t *testing.T) pipeline.Selection {
	t.Helper()
	sel, err := pipeline.NewSelection("", "")
	if err != nil {
		t.Fatal(err)
	}
	return sel
}

func stageStatuses(report *orchestrator.Report) map[pipeline.StageID]ledger.StageStatus {
	out := map[pipeline.StageID]ledger.StageStatus{}
	for _, s := range report.Stages {
		out[s.Stage] = s.Status
	}
	return out
}

func TestFullRunCompletes(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)

	report, err := o.Run(context.Background(), "run-1", all(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != orchestrator.StateComplete {
		t.Fatalf("state = %s", report.State)
	}
	if len(report.Stages) != len(pipeline.Order()) {
		t.Fatalf("ran %d stages", len(report.Stages))
	}
	for _, s := range report.Stages {
		if s.Status != ledger.StageCompleted {
			t.Fatalf("stage %s ended %s: %v", s.Stage, s.Status, s.Err)
		}
	}
	score, _ := report.Stage(pipeline.StageScore)
	if score.Rows != 120 || score.Validation == nil || !score.Validation.OK() {
		t.Fatalf("unexpected score report %+v", score)
	}

	report2, err := provenance.Verify(o.Layout().RunManifestPath(), o.Store(), "")
	if err != nil || !report2.OK() {
		t.Fatalf("fresh results do not verify: %v %v", err, report2.Mismatches)
	}

	run, err := f.ledger.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != ledger.RunComplete || run.RunHash != report.RunHash {
		t.Fatalf("ledger run %+v", run)
	}
	stages, _ := f.ledger.StagesForRun(context.Background(), "run-1")
	if len(stages) != len(pipeline.Order()) {
		t.Fatalf("ledger has %d stage rows", len(stages))
	}

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := f.metrics.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `restorebench_runs_total{state="complete"} 1`) {
		t.Fatalf("run outcome not counted:\n%s", data)
	}
}

func TestRerunHasIdenticalRunHash(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	first, err := o.Run(context.Background(), "run-1", all(t))
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(o.Layout().RunManifestPath())

	second, err := o.Run(context.Background(), "run-2", all(t))
	if err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(o.Layout().RunManifestPath())
	if first.RunHash == "" || first.RunHash != second.RunHash {
		t.Fatalf("run hash changed: %s vs %s", first.RunHash, second.RunHash)
	}
	if diff := cmp.Diff(string(before), string(after)); diff != "" {
		t.Fatalf("run manifest bytes changed:\n%s", diff)
	}
}

func TestSecondInvocationIsRefused(t *testing.T) {
	f := newFixture(t)
	release, err := orchestrator.Lock(f.cfg)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release()

	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	report, err := o.Run(context.Background(), "run-locked", all(t))
	if !errors.Is(err, services.ErrRunLocked) {
		t.Fatalf("expected ErrRunLocked, got %v", err)
	}
	if services.ExitCode(err) != services.ExitLocked {
		t.Fatalf("exit code %d", services.ExitCode(err))
	}
	if len(report.Stages) != 0 || o.Store().Exists(pipeline.StageIngest) {
		t.Fatal("locked run must not execute stages")
	}
}

func TestMissingArtifactFailsValidationGate(t *testing.T) {
	f := newFixture(t)
	backend := testsupport.NewMemoryBackend("outputs/degrade/jpeg/000003.png")
	mirror := blob.NewMirror(backend, f.cfg.Paths.ResultsDir)
	o := f.orchestrator(t, testsupport.Capabilities(), mirror)

	report, err := o.Run(context.Background(), "run-gate", all(t))
	var verr *validate.Error
	if !errors.As(err, &verr) || !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if report.State != orchestrator.StateAborted || report.FailedStage != pipeline.StageDegrade {
		t.Fatalf("state=%s failed=%s", report.State, report.FailedStage)
	}
	result := verr.Result
	if len(result.Diffs) != 1 || result.Count(validate.DiffMissing) != 1 || result.CountMismatch {
		t.Fatalf("expected exactly one missing diff, got %+v", result)
	}
	if !strings.Contains(result.Diffs[0].Key, "000003.png") {
		t.Fatalf("diff names the wrong key: %s", result.Diffs[0].Key)
	}

	statuses := stageStatuses(report)
	if statuses[pipeline.StageRestoreA] != ledger.StageSkipped || statuses[pipeline.StageAggregate] != ledger.StageSkipped {
		t.Fatalf("downstream stages not skipped: %v", statuses)
	}
	if !o.Store().Exists(pipeline.StageDegrade) || o.Store().Exists(pipeline.StageRestoreA) {
		t.Fatal("last good manifests should remain and nothing downstream may publish")
	}
	if backend.Keys() == 0 {
		t.Fatal("nothing was mirrored")
	}
}

func TestThresholdBreachAbortsRun(t *testing.T) {
	f := newFixture(t)
	caps := testsupport.Capabilities()
	caps.Restore[0] = &testsupport.FlakyRestorer{FailIDs: map[string]bool{"000001.png": true}}
	o := f.orchestrator(t, caps, nil)

	report, err := o.Run(context.Background(), "run-breach", all(t))
	if services.ExitCode(err) != services.ExitStage {
		t.Fatalf("exit code %d for %v", services.ExitCode(err), err)
	}
	if report.FailedStage != pipeline.StageRestoreA {
		t.Fatalf("failed stage %s", report.FailedStage)
	}
	if _, statErr := os.Stat(o.Layout().RunManifestPath()); !os.IsNotExist(statErr) {
		t.Fatal("aborted run wrote a run manifest")
	}
	if _, statErr := os.Stat(o.Layout().Table("summary.csv")); !os.IsNotExist(statErr) {
		t.Fatal("aborted run produced metric tables")
	}
	run, _ := f.ledger.GetRun(context.Background(), "run-breach")
	if run.Status != ledger.RunAborted || !strings.Contains(run.ErrorMessage, "restore_a") {
		t.Fatalf("ledger run %+v", run)
	}
}

func TestSingleStageRequiresPublishedUpstream(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	sel, _ := pipeline.NewSelection("score", "")
	_, err := o.Run(context.Background(), "run-single", sel)
	if !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestSingleStageReusesPublishedUpstream(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	upTo, _ := pipeline.NewSelection("", "degrade")
	report, err := o.Run(context.Background(), "run-a", upTo)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stages) != 3 || o.Store().Exists(pipeline.StageRestoreA) {
		t.Fatalf("up-to ran %d stages", len(report.Stages))
	}

	single, _ := pipeline.NewSelection("restore_a", "")
	report, err = o.Run(context.Background(), "run-b", single)
	if err != nil {
		t.Fatalf("single stage: %v", err)
	}
	if got := report.Stages[0]; got.Stage != pipeline.StageRestoreA || got.Rows != 10 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestRunRemovesStaleStaging(t *testing.T) {
	f := newFixture(t)
	stale := filepath.Join(f.cfg.Paths.ResultsDir, "outputs", ".degrade.staging-abandoned")
	testsupport.WriteFile(t, filepath.Join(stale, "blur", "x.png"), 8)

	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	sel, _ := pipeline.NewSelection("", "ingest")
	if _, err := o.Run(context.Background(), "run-clean", sel); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale staging directory survived the run")
	}
}

func TestSingleStageRejectsUpstreamFromAnotherConfig(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	if _, err := o.Run(context.Background(), "run-full", all(t)); err != nil {
		t.Fatalf("full run: %v", err)
	}
	before, err := os.ReadFile(o.Layout().RunManifestPath())
	if err != nil {
		t.Fatal(err)
	}

	f.cfg.Methods[1].TuningGrid = []float64{0.3, 0.5}
	shrunk := f.orchestrator(t, testsupport.Capabilities(), nil)
	for _, name := range []string{"score", "aggregate"} {
		sel, _ := pipeline.NewSelection(name, "")
		report, err := shrunk.Run(context.Background(), "run-"+name, sel)
		if !errors.Is(err, services.ErrManifestIntegrity) {
			t.Fatalf("%s: expected integrity error, got %v", name, err)
		}
		if report.State != orchestrator.StateAborted || report.FailedStage != pipeline.StageID(name) {
			t.Fatalf("%s: state=%s failed=%s", name, report.State, report.FailedStage)
		}
	}
	after, err := os.ReadFile(o.Layout().RunManifestPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("rejected run rewrote the run manifest")
	}
}

func TestSingleStageRejectsStaleUpstreamRows(t *testing.T) {
	f := newFixture(t)
	upTo, _ := pipeline.NewSelection("", "degrade")
	if _, err := f.orchestrator(t, testsupport.Capabilities(), nil).Run(context.Background(), "run-a", upTo); err != nil {
		t.Fatal(err)
	}

	// Same configuration, smaller dataset index: the published ingest
	// manifest still lists the dropped sample.
	testsupport.WriteDataset(t, f.cfg, testsupport.ScenarioIDs[:4]...)
	o := f.orchestrator(t, testsupport.Capabilities(), nil)
	single, _ := pipeline.NewSelection("restore_a", "")
	report, err := o.Run(context.Background(), "run-b", single)
	var verr *validate.Error
	if !errors.As(err, &verr) || !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Result.Stage != pipeline.StageIngest || verr.Result.Count(validate.DiffExtra) != 1 {
		t.Fatalf("unexpected diffs %+v", verr.Result)
	}
	if report.FailedStage != pipeline.StageRestoreA || o.Store().Exists(pipeline.StageRestoreA) {
		t.Fatal("restore_a ran against a stale upstream")
	}
}

func TestFailedRestorationsAreNotScored(t *testing.T) {
	f := newFixture(t, testsupport.WithThreshold(0.5))
	caps := testsupport.Capabilities()
	caps.Restore[0] = &testsupport.FlakyRestorer{FailIDs: map[string]bool{"000001.png": true}}
	o := f.orchestrator(t, caps, nil)

	report, err := o.Run(context.Background(), "run-partial", all(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	restoreA, _ := report.Stage(pipeline.StageRestoreA)
	score, _ := report.Stage(pipeline.StageScore)
	// 8 ok restore_a rows + 30 restore_b rows, three metrics each.
	if restoreA.Failed != 2 || score.Rows != 114 || score.Failed != 0 {
		t.Fatalf("restore_a failed=%d score rows=%d failed=%d", restoreA.Failed, score.Rows, score.Failed)
	}

	m, err := o.Store().Read(pipeline.StageScore)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range m.Rows {
		if row.String("method") == "alpha" && row.String("id") == "000001.png" {
			t.Fatalf("failed restoration was scored: %v", row)
		}
	}
}
