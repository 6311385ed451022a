package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restorebench/internal/orchestrator"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

func TestStagesListsPipelineOrderWithoutConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, _, err := runCLI(t, []string{"stages"})
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	last := -1
	for _, id := range pipeline.Order() {
		idx := strings.Index(out, string(id))
		if idx < 0 {
			t.Fatalf("stage %s missing from output\n%s", id, out)
		}
		if idx < last {
			t.Fatalf("stage %s listed out of order\n%s", id, out)
		}
		last = idx
	}
}

func TestMissingConfigIsConfigurationError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, _, err := runCLI(t, []string{"--config", filepath.Join(t.TempDir(), "absent.toml"), "config", "validate"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if code := services.ExitCode(err); code != services.ExitConfig {
		t.Fatalf("exit code = %d, want %d", code, services.ExitConfig)
	}
}

func TestConfigInitWritesLoadableSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "restorebench.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"--config", target, "config", "validate"})
	if err != nil {
		t.Fatalf("validate sample: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowPrintsHashAndMatrix(t *testing.T) {
	env := setupCLIEnv(t)
	hash, err := env.cfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, hash)
	requireContains(t, out, "fidelity_weight")
	requireContains(t, out, "Matrix cells: 8")
}

func TestRunVerifyStatusClean(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := env.run(t, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "Complete")
	requireContains(t, out, "Run hash: sha256:")

	out, _, err = env.run(t, "verify")
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	requireContains(t, out, "Results match run manifest")

	out, _, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Latest run")
	requireContains(t, out, pipeline.StageRestoreB.Label())

	out, _, err = env.run(t, "clean")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "Removed")
	layout := pipeline.NewLayout(env.cfg.Paths.ResultsDir)
	for _, target := range layout.Generated() {
		if _, err := os.Stat(target); !os.IsNotExist(err) {
			t.Fatalf("%s survived clean", target)
		}
	}
	if _, err := os.Stat(env.cfg.LedgerPath()); err != nil {
		t.Fatalf("clean without --all removed the ledger: %v", err)
	}

	_, _, err = env.run(t, "verify")
	if !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("verify after clean: expected integrity error, got %v", err)
	}
}

func TestVerifyReportsTamperedManifest(t *testing.T) {
	env := setupCLIEnv(t)
	if _, _, err := env.run(t, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	path := pipeline.NewLayout(env.cfg.Paths.ResultsDir).RunManifestPath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"row_count": 5`, `"row_count": 6`, 1)
	if tampered == string(data) {
		t.Fatal("fixture did not contain an ingest row count")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := env.run(t, "verify")
	if code := services.ExitCode(err); code != services.ExitIntegrity {
		t.Fatalf("exit code = %d (%v), want %d", code, err, services.ExitIntegrity)
	}
	requireContains(t, out, "MISMATCH")
}

func TestRunRejectsConflictingSelection(t *testing.T) {
	env := setupCLIEnv(t)
	if _, _, err := env.run(t, "run", "--stage", "score", "--up-to", "degrade"); err == nil {
		t.Fatal("expected --stage/--up-to conflict")
	}
	if _, _, err := env.run(t, "run", "--stage", "sharpen"); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestRunSingleStageWithoutUpstreamFails(t *testing.T) {
	env := setupCLIEnv(t)
	_, _, err := env.run(t, "run", "--stage", "score")
	if !errors.Is(err, services.ErrManifestIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestCleanRefusesWhileLocked(t *testing.T) {
	env := setupCLIEnv(t)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	release, err := orchestrator.Lock(env.cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, _, err = env.run(t, "clean", "--all")
	if code := services.ExitCode(err); code != services.ExitLocked {
		t.Fatalf("exit code = %d (%v), want %d", code, err, services.ExitLocked)
	}
}

func TestDoctorFlagsMissingPartition(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor on healthy config: %v\n%s", err, out)
	}
	requireContains(t, out, "OK")

	if err := os.Remove(env.cfg.Dataset.PartitionFile); err != nil {
		t.Fatal(err)
	}
	out, _, err = env.run(t, "doctor")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	requireContains(t, out, "FAIL")
}

func TestStatusWithNoRuns(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}
