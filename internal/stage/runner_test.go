package stage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/dataset"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
	"restorebench/internal/stage"
	"restorebench/internal/testsupport"
)

type harness struct {
	cfg    *config.Config
	rc     *stage.RunContext
	store  *manifest.Store
	runner *stage.Runner
}

func newHarness(t *testing.T, caps *capability.Set, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.WriteDataset(t, cfg, testsupport.ScenarioIDs...)
	layout := pipeline.NewLayout(cfg.Paths.ResultsDir)
	store := manifest.NewStore(layout.ManifestDir())
	return &harness{
		cfg:   cfg,
		store: store,
		rc: &stage.RunContext{
			Config:       cfg,
			Capabilities: caps,
			Samples:      dataset.IndexFromConfig(cfg),
			Layout:       layout,
			Upstream:     map[pipeline.StageID]*manifest.Manifest{},
		},
		runner: stage.NewRunner(store, cfg.Execution, nil, nil),
	}
}

func (h *harness) run(t *testing.T, id pipeline.StageID) (stage.Outcome, error) {
	t.Helper()
	def, err := stage.DefinitionFor(id)
	if err != nil {
		t.Fatalf("DefinitionFor(%s): %v", id, err)
	}
	outcome, err := h.runner.Execute(context.Background(), h.rc, def)
	if outcome.Manifest != nil {
		h.rc.Upstream[id] = outcome.Manifest
	}
	return outcome, err
}

func (h *harness) runThrough(t *testing.T, last pipeline.StageID) {
	t.Helper()
	for _, id := range pipeline.ManifestStages() {
		if _, err := h.run(t, id); err != nil {
			t.Fatalf("stage %s: %v", id, err)
		}
		if id == last {
			return
		}
	}
}

func TestScenarioCardinalities(t *testing.T) {
	h := newHarness(t, testsupport.Capabilities())
	want := map[pipeline.StageID]int{
		pipeline.StageIngest:   5,
		pipeline.StageAlign:    5,
		pipeline.StageDegrade:  10,
		pipeline.StageRestoreA: 10,
		pipeline.StageRestoreB: 30,
		pipeline.StageScore:    120,
		pipeline.StageFigures:  24,
	}
	for _, id := range pipeline.ManifestStages() {
		outcome, err := h.run(t, id)
		if err != nil {
			t.Fatalf("stage %s: %v", id, err)
		}
		if got := outcome.Manifest.Len(); got != want[id] {
			t.Fatalf("stage %s produced %d rows, want %d", id, got, want[id])
		}
		if diff := cmp.Diff(outcome.Expected, keysOf(t, outcome.Manifest)); diff != "" {
			t.Fatalf("stage %s rows not in canonical order:\n%s", id, diff)
		}
	}

	assertReferentialClosure(t, h.rc.Upstream)

	for _, name := range []string{"metrics.csv", "summary.csv", "summary.txt"} {
		if info, err := os.Stat(h.rc.Layout.Table(name)); err != nil || info.Size() == 0 {
			t.Fatalf("table %s not exported: %v", name, err)
		}
	}
	data, err := os.ReadFile(h.rc.Layout.DegradeCSVPath())
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 11 {
		t.Fatalf("degrade.csv has %d lines, want header + 10", lines)
	}
	summary := manifest.SummaryFromRow(h.rc.Upstream[pipeline.StageFigures].Rows[0])
	if summary.N != 5 || summary.Mean == nil || *summary.Mean != 1 {
		t.Fatalf("unexpected first summary %+v", summary)
	}
}

func keysOf(t *testing.T, m *manifest.Manifest) []string {
	t.Helper()
	schema, err := manifest.SchemaFor(m.Stage)
	if err != nil {
		t.Fatal(err)
	}
	keys := make([]string, len(m.Rows))
	for i, row := range m.Rows {
		keys[i] = schema.KeyOf(row)
	}
	return keys
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness(t, testsupport.Capabilities())
	h.runThrough(t, pipeline.StageFigures)
	first := map[pipeline.StageID]string{}
	for id, m := range h.rc.Upstream {
		first[id] = m.ContentHash
	}
	stale := filepath.Join(h.rc.Layout.OutputDir(pipeline.StageDegrade), "stale.png")
	testsupport.WriteFile(t, stale, 4)

	h.runThrough(t, pipeline.StageFigures)
	for id, m := range h.rc.Upstream {
		if m.ContentHash != first[id] {
			t.Fatalf("stage %s hash changed on rerun", id)
		}
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("rerun did not replace the degrade output directory")
	}
}

func TestItemFailureIsIsolated(t *testing.T) {
	flaky := &testsupport.FlakyRestorer{FailIDs: map[string]bool{"000002.png": true}}
	caps := testsupport.Capabilities()
	caps.Restore[1] = flaky
	h := newHarness(t, caps, testsupport.WithThreshold(0.5))
	h.runThrough(t, pipeline.StageRestoreA)

	outcome, err := h.run(t, pipeline.StageRestoreB)
	if err != nil {
		t.Fatalf("restore_b within threshold: %v", err)
	}
	m := outcome.Manifest
	if m.Len() != 30 || m.FailureCount != 6 {
		t.Fatalf("restore_b rows=%d failures=%d, want 30/6", m.Len(), m.FailureCount)
	}
	for _, row := range m.Rows {
		rec := manifest.RestorationFromRow(row)
		failed := rec.ID == "000002.png"
		if row.Failed() != failed {
			t.Fatalf("row %s failed=%v", rec.ID, row.Failed())
		}
		if failed && !strings.Contains(rec.Reason, testsupport.ErrInjected.Error()) {
			t.Fatalf("failure reason not captured: %q", rec.Reason)
		}
	}
	if flaky.Calls() != 30 {
		t.Fatalf("remaining items not processed: %d calls", flaky.Calls())
	}
	if flaky.Peak() > 1 {
		t.Fatalf("exclusive method exceeded accelerator slots: peak %d", flaky.Peak())
	}

	score, err := h.run(t, pipeline.StageScore)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// 10 restore_a + 24 ok restore_b rows, three metrics each.
	if score.Manifest.Len() != 102 || score.Manifest.FailureCount != 0 {
		t.Fatalf("score rows=%d failures=%d, want 102/0", score.Manifest.Len(), score.Manifest.FailureCount)
	}
	if diff := cmp.Diff(score.Expected, keysOf(t, score.Manifest)); diff != "" {
		t.Fatalf("score keys differ from plan:\n%s", diff)
	}
	assertReferentialClosure(t, h.rc.Upstream)
}

// assertReferentialClosure checks that every restoration refers to a
// degraded pair and every metric row refers to an ok restoration.
func assertReferentialClosure(t *testing.T, manifests map[pipeline.StageID]*manifest.Manifest) {
	t.Helper()
	degraded := map[string]bool{}
	for _, row := range manifests[pipeline.StageDegrade].Rows {
		rec := manifest.DegradedFromRow(row)
		degraded[manifest.Key("id", rec.ID, "preset_name", rec.PresetName)] = true
	}
	okRestorations := map[string]bool{}
	for _, id := range []pipeline.StageID{pipeline.StageRestoreA, pipeline.StageRestoreB} {
		for _, row := range manifests[id].Rows {
			rec := manifest.RestorationFromRow(row)
			if !degraded[manifest.Key("id", rec.ID, "preset_name", rec.PresetName)] {
				t.Fatalf("%s row %s/%s has no degraded pair", id, rec.ID, rec.PresetName)
			}
			if rec.OK() {
				okRestorations[manifest.Key("id", rec.ID, "preset_name", rec.PresetName, "method", rec.Method, "tuning_value", rec.Tuning)] = true
			}
		}
	}
	score, ok := manifests[pipeline.StageScore]
	if !ok {
		return
	}
	for _, row := range score.Rows {
		rec := manifest.MetricFromRow(row)
		key := manifest.Key("id", rec.ID, "preset_name", rec.PresetName, "method", rec.Method, "tuning_value", rec.Tuning)
		if !okRestorations[key] {
			t.Fatalf("metric row %s/%s does not reference an ok restoration", key, rec.MetricName)
		}
	}
}

func TestThresholdBreachFailsStage(t *testing.T) {
	caps := testsupport.Capabilities()
	caps.Restore[0] = &testsupport.FlakyRestorer{FailIDs: map[string]bool{"000005.png": true}}
	h := newHarness(t, caps)
	h.runThrough(t, pipeline.StageDegrade)

	outcome, err := h.run(t, pipeline.StageRestoreA)
	var stageErr *services.StageError
	if !errors.As(err, &stageErr) || !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if stageErr.Failed != 2 || stageErr.Total != 10 {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
	if outcome.Manifest == nil || !h.store.Exists(pipeline.StageRestoreA) {
		t.Fatal("failing manifest should be published for inspection")
	}
}

func TestCancellationPublishesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	blocking := testsupport.NewBlockingRestorer()
	caps := testsupport.Capabilities()
	caps.Restore[0] = blocking
	h := newHarness(t, caps)
	h.runThrough(t, pipeline.StageDegrade)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-blocking.Started
		cancel()
	}()
	def, _ := stage.DefinitionFor(pipeline.StageRestoreA)
	_, err := h.runner.Execute(ctx, h.rc, def)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if h.store.Exists(pipeline.StageRestoreA) {
		t.Fatal("cancelled stage published a manifest")
	}
	entries, _ := os.ReadDir(h.rc.Layout.OutputsDir())
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || entry.Name() == string(pipeline.StageRestoreA) {
			t.Fatalf("cancelled stage left %s behind", entry.Name())
		}
	}
}

func TestMissingGroundTruthFailsIngestRow(t *testing.T) {
	h := newHarness(t, testsupport.Capabilities(), testsupport.WithThreshold(1))
	if err := os.Remove(filepath.Join(h.cfg.Dataset.ImageDir, "000003.png")); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.run(t, pipeline.StageIngest)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Manifest.FailureCount != 1 {
		t.Fatalf("failures = %d, want 1", outcome.Manifest.FailureCount)
	}
	degrade, err := h.run(t, pipeline.StageDegrade)
	if err != nil {
		t.Fatal(err)
	}
	if degrade.Manifest.Len() != 10 || degrade.Manifest.FailureCount != 2 {
		t.Fatalf("degrade rows=%d failures=%d", degrade.Manifest.Len(), degrade.Manifest.FailureCount)
	}
}

func TestAlignmentRejectsWrongGeometry(t *testing.T) {
	h := newHarness(t, testsupport.Capabilities())
	testsupport.WritePNG(t, filepath.Join(h.cfg.Dataset.ImageDir, "000004.png"), testsupport.ImageSize*2, 0)
	if _, err := h.run(t, pipeline.StageIngest); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.run(t, pipeline.StageAlign)
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected alignment breach, got %v", err)
	}
	rec := outcome.Manifest.Rows[3]
	if rec.String("id") != "000004.png" || !strings.Contains(rec.String("reason"), "16x16") {
		t.Fatalf("unexpected alignment row %v", rec)
	}
}

func TestItemSeedIsStable(t *testing.T) {
	a := stage.ItemSeed(1337, "blur", "000001.png")
	if a != stage.ItemSeed(1337, "blur", "000001.png") {
		t.Fatal("seed not deterministic")
	}
	if a == stage.ItemSeed(1337, "jpeg", "000001.png") || a == stage.ItemSeed(1338, "blur", "000001.png") {
		t.Fatal("seed ignores its inputs")
	}
	if stage.ItemSeed(1, "ab", "c") == stage.ItemSeed(1, "a", "bc") {
		t.Fatal("seed parts are not delimited")
	}
}

func TestSummarize(t *testing.T) {
	mean, std := stage.Summarize(nil)
	if mean != nil || std != nil {
		t.Fatal("empty group should have no statistics")
	}
	mean, std = stage.Summarize([]float64{2})
	if *mean != 2 || std != nil {
		t.Fatal("single value should have mean only")
	}
	mean, std = stage.Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if *mean != 5 {
		t.Fatalf("mean = %v", *mean)
	}
	if got := *std; got < 2.138 || got > 2.139 {
		t.Fatalf("std = %v", got)
	}
}
