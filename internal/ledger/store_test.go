package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"restorebench/internal/ledger"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	store, err := ledger.Open(filepath.Join(t.TempDir(), "logs", "ledger.db"), ledger.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.BeginRun(ctx, "run-1", "bench", "sha256:cfg"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	stages := []ledger.StageRun{
		{RunID: "run-1", Stage: "ingest", Status: ledger.StageCompleted, RowCount: 5, ManifestHash: "sha256:a", Duration: 1500 * time.Millisecond},
		{RunID: "run-1", Stage: "align", Status: ledger.StageFailed, RowCount: 5, FailureCount: 1, ManifestHash: "sha256:b", ErrorMessage: "1/5 items failed"},
	}
	for _, rec := range stages {
		if err := store.RecordStage(ctx, rec); err != nil {
			t.Fatalf("RecordStage: %v", err)
		}
	}
	if err := store.FinishRun(ctx, "run-1", ledger.RunAborted, "", "align failed"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.RunAborted || run.ErrorMessage != "align failed" || run.FinishedAt == nil {
		t.Fatalf("unexpected run %+v", run)
	}

	got, err := store.StagesForRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("StagesForRun: %v", err)
	}
	type summary struct {
		Stage    string
		Status   ledger.StageStatus
		Failures int
		Hash     string
		Duration time.Duration
	}
	var gotSummary []summary
	for _, rec := range got {
		gotSummary = append(gotSummary, summary{rec.Stage, rec.Status, rec.FailureCount, rec.ManifestHash, rec.Duration})
	}
	want := []summary{
		{"ingest", ledger.StageCompleted, 0, "sha256:a", 1500 * time.Millisecond},
		{"align", ledger.StageFailed, 1, "sha256:b", 0},
	}
	if diff := cmp.Diff(want, gotSummary); diff != "" {
		t.Fatalf("stage rows mismatch (-want +got):\n%s", diff)
	}
}

func TestListRunsNewestFirstAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := store.BeginRun(ctx, id, "bench", "sha256:cfg"); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Fatalf("unexpected order %+v", runs)
	}

	removed, err := store.Prune(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed %d runs, want 2", removed)
	}
	if _, err := store.GetRun(ctx, "r1"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("expected pruned run to be gone, got %v", err)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := openStore(t)
	err := store.FinishRun(context.Background(), "missing", ledger.RunComplete, "sha256:x", "")
	if !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.BeginRun(context.Background(), "r1", "bench", "sha256:cfg"); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRun(context.Background(), "r1"); err != nil {
		t.Fatalf("history lost on reopen: %v", err)
	}
}
