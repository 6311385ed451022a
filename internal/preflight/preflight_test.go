package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restorebench/internal/blob"
	"restorebench/internal/config"
	"restorebench/internal/services"
	"restorebench/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWritableDirectory_NotYetCreated(t *testing.T) {
	result := CheckWritableDirectory("results", filepath.Join(t.TempDir(), "a", "b"))
	if !result.Passed || !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("expected pass for creatable dir, got %+v", result)
	}
}

func TestCheckReadableFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckReadableFile("index", empty).Passed {
		t.Fatal("empty file should fail")
	}
	if CheckReadableFile("index", dir).Passed {
		t.Fatal("directory should fail")
	}
	full := filepath.Join(dir, "full.txt")
	if err := os.WriteFile(full, []byte("1 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckReadableFile("index", full); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
}

type failingBackend struct{ err error }

func (failingBackend) Driver() string { return "s3" }
func (f failingBackend) Stat(context.Context, string) (blob.Info, error) {
	return blob.Info{}, f.err
}
func (failingBackend) Put(context.Context, string, string) error { return nil }

func TestCheckStorage(t *testing.T) {
	if r := CheckStorage(context.Background(), testsupport.NewMemoryBackend()); !r.Passed {
		t.Fatalf("not-found probe should pass: %s", r.Detail)
	}
	denied := failingBackend{err: services.Wrap(services.ErrStorage, "storage", "stat", "access denied", errors.New("403"))}
	if r := CheckStorage(context.Background(), denied); r.Passed {
		t.Fatal("access error should fail")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("restore-tool"))
	testsupport.WriteDataset(t, cfg, testsupport.ScenarioIDs...)
	cfg.Methods[1].Capability = config.Capability{Command: []string{"restore-tool", "{input}", "{output}"}}
	cfg.Score.Capability = config.Capability{Command: []string{"missing-scorer-binary", "{gt}", "{restored}"}}

	results := RunAll(context.Background(), cfg, blob.NewFS(cfg.Paths.ResultsDir))
	failed := Failures(results)
	if len(failed) != 1 || failed[0].Name != "Binary missing-scorer-binary" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	err := Error(results)
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "missing-scorer-binary") {
		t.Fatalf("unexpected error %v", err)
	}
	if Error(results[:4]) != nil {
		t.Fatal("passing results should not produce an error")
	}
}
