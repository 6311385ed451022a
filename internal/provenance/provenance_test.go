package provenance_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/provenance"
	"restorebench/internal/services"
)

func fixedEnv() provenance.Environment {
	return provenance.Environment{OS: "linux", Arch: "amd64", GoVersion: "go1.26", Capabilities: map[string]string{
		"degrade": "builtin:copy", "restore_a": "builtin:copy", "restore_b": "command:codeformer", "score": "builtin:byte_match",
	}}
}

func publishAll(t *testing.T, store *manifest.Store) map[pipeline.StageID]*manifest.Manifest {
	t.Helper()
	rows := map[pipeline.StageID][]manifest.Row{
		pipeline.StageIngest:   {manifest.SampleRecord{ID: "a", GTPath: "gt/a", Split: "test"}.Row()},
		pipeline.StageAlign:    {manifest.AlignmentRecord{ID: "a", Width: 8, Height: 8}.Row()},
		pipeline.StageDegrade:  {manifest.DegradedRecord{ID: "a", PresetName: "blur", GTPath: "gt/a", DegradedPath: "d/a", Split: "test"}.Row()},
		pipeline.StageRestoreA: {manifest.RestorationRecord{ID: "a", PresetName: "blur", Method: "alpha", RestoredPath: "r/a"}.Row()},
		pipeline.StageRestoreB: {manifest.RestorationRecord{ID: "a", PresetName: "blur", Method: "beta", Reason: "timeout"}.Row()},
		pipeline.StageScore:    {manifest.MetricRecord{ID: "a", PresetName: "blur", Method: "alpha", MetricName: "psnr"}.Row()},
		pipeline.StageFigures:  {manifest.SummaryRecord{Method: "alpha", PresetName: "blur", MetricName: "psnr"}.Row()},
	}
	out := map[pipeline.StageID]*manifest.Manifest{}
	for id, r := range rows {
		m, err := store.Write(id, r)
		if err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
		out[id] = m
	}
	return out
}

func TestAggregateIsDeterministic(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	manifests := publishAll(t, store)
	first, err := provenance.Aggregate("bench", "sha256:cfg", fixedEnv(), manifests)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	second, _ := provenance.Aggregate("bench", "sha256:cfg", fixedEnv(), manifests)
	a, _ := first.Encode()
	b, _ := second.Encode()
	if string(a) != string(b) || first.RunHash != second.RunHash {
		t.Fatal("aggregate output differs for identical inputs")
	}
	if first.PerStage["restore_b"].FailureCount != 1 {
		t.Fatalf("failure count not captured: %+v", first.PerStage["restore_b"])
	}
	other, _ := provenance.Aggregate("bench", "sha256:other", fixedEnv(), manifests)
	if other.RunHash == first.RunHash {
		t.Fatal("config hash does not affect run hash")
	}
}

func TestAggregateRequiresEveryStage(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	manifests := publishAll(t, store)
	delete(manifests, pipeline.StageScore)
	_, err := provenance.Aggregate("bench", "sha256:cfg", fixedEnv(), manifests)
	if !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"))
	manifests := publishAll(t, store)
	rm, err := provenance.Aggregate("bench", "sha256:cfg", fixedEnv(), manifests)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "run_manifest.json")
	if err := provenance.Write(path, rm); err != nil {
		t.Fatal(err)
	}

	report, err := provenance.Verify(path, store, "sha256:cfg")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.OK() {
		t.Fatalf("fresh tree reported mismatches: %v", report.Mismatches)
	}

	if _, err := store.Write(pipeline.StageFigures, []manifest.Row{
		manifest.SummaryRecord{Method: "alpha", PresetName: "blur", MetricName: "ssim"}.Row(),
	}); err != nil {
		t.Fatal(err)
	}
	report, err = provenance.Verify(path, store, "sha256:changed")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Mismatches) != 2 {
		t.Fatalf("expected config and figures mismatches, got %v", report.Mismatches)
	}

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"row_count": 1`, `"row_count": 2`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}
	report, _ = provenance.Verify(path, store, "")
	found := false
	for _, m := range report.Mismatches {
		if m.Stage == string(pipeline.StageAggregate) {
			found = true
		}
	}
	if !found {
		t.Fatalf("tampered run manifest not detected: %v", report.Mismatches)
	}
}

func TestCaptureEnvironment(t *testing.T) {
	env := provenance.CaptureEnvironment(nil)
	if env.OS == "" || env.GoVersion == "" || env.Capabilities == nil {
		t.Fatalf("incomplete environment %+v", env)
	}
}

func TestAggregateRejectsManifestsFromAnotherConfig(t *testing.T) {
	store := manifest.NewStore(t.TempDir(), manifest.WithConfigHash("sha256:old"))
	manifests := publishAll(t, store)
	if _, err := provenance.Aggregate("bench", "sha256:old", fixedEnv(), manifests); err != nil {
		t.Fatalf("matching config: %v", err)
	}
	_, err := provenance.Aggregate("bench", "sha256:new", fixedEnv(), manifests)
	if !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}
