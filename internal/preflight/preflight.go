package preflight

import (
	"context"
	"fmt"
	"strings"

	"restorebench/internal/blob"
	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check for cfg. backend may be nil, which skips the
// storage check.
func RunAll(ctx context.Context, cfg *config.Config, backend blob.Backend) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckWritableDirectory("Results directory", cfg.Paths.ResultsDir),
		CheckWritableDirectory("Log directory", cfg.Paths.LogDir),
		CheckReadableDirectory("Image directory", cfg.Dataset.ImageDir),
		CheckReadableFile("Partition file", cfg.Dataset.PartitionFile),
	}
	for _, name := range capability.Binaries(cfg) {
		results = append(results, CheckBinary(name))
	}
	if backend != nil {
		results = append(results, CheckStorage(ctx, backend))
	}
	return results
}

// Failures returns the failed results.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Error summarizes failed results as a configuration error, or nil when every
// check passed.
func Error(results []Result) error {
	failed := Failures(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, r := range failed {
		parts[i] = r.Name + ": " + r.Detail
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check environment",
		fmt.Sprintf("%d preflight check(s) failed: %s", len(failed), strings.Join(parts, "; ")), nil)
}
