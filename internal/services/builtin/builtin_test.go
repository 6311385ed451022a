package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"restorebench/internal/services"
	"restorebench/internal/services/builtin"
)

func TestCopyAndByteMatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "gt.png")
	if err := os.WriteFile(src, []byte("abcdef"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, "nested", "out.png")
	if err := (builtin.Copy{}).Restore(context.Background(), services.RestoreRequest{Input: src, Output: dst}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	score, err := (builtin.ByteMatch{}).Score(context.Background(), services.ScoreRequest{GroundTruth: src, Restored: dst})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 1 {
		t.Fatalf("expected identical score 1, got %v", score)
	}

	if err := os.WriteFile(dst, []byte("abcxef00"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	score, err = (builtin.ByteMatch{}).Score(context.Background(), services.ScoreRequest{GroundTruth: src, Restored: dst})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 5.0/8.0 {
		t.Fatalf("unexpected partial score %v", score)
	}
}

func TestCopyMissingInput(t *testing.T) {
	err := (builtin.Copy{}).Degrade(context.Background(), services.DegradeRequest{
		Input: filepath.Join(t.TempDir(), "absent"), Output: filepath.Join(t.TempDir(), "out"),
	})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
}
