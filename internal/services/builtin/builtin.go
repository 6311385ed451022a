// Package builtin provides in-process capabilities that need no external
// tooling: a byte copy for degradation and restoration, and a byte-level
// similarity scorer. They exist for dry runs and smoke tests of a project
// layout before real models are wired in.
package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"restorebench/internal/fileutil"
	"restorebench/internal/services"
)

// Copy implements services.Degrader and services.Restorer by copying the input
// file to the output path.
type Copy struct{}

// Describe implements services.Capability.
func (Copy) Describe() string { return "builtin:copy" }

// Degrade implements services.Degrader.
func (Copy) Degrade(ctx context.Context, req services.DegradeRequest) error {
	return copyFile(ctx, req.Input, req.Output)
}

// Restore implements services.Restorer.
func (Copy) Restore(ctx context.Context, req services.RestoreRequest) error {
	return copyFile(ctx, req.Input, req.Output)
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return nil
}

// ByteMatch implements services.Scorer. It reports the fraction of byte
// positions that agree between the two files, normalized by the longer file;
// identical files score 1.
type ByteMatch struct{}

// Describe implements services.Capability.
func (ByteMatch) Describe() string { return "builtin:byte_match" }

// Score implements services.Scorer. The metric name is ignored.
func (ByteMatch) Score(ctx context.Context, req services.ScoreRequest) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a, err := os.ReadFile(req.GroundTruth)
	if err != nil {
		return 0, fmt.Errorf("read ground truth: %w", err)
	}
	b, err := os.ReadFile(req.Restored)
	if err != nil {
		return 0, fmt.Errorf("read restored: %w", err)
	}
	if bytes.Equal(a, b) {
		return 1, nil
	}
	longest := max(len(a), len(b))
	same := 0
	for i := range min(len(a), len(b)) {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(longest), nil
}
