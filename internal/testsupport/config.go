package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"restorebench/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a valid experiment config rooted in a fresh temp
// directory: two presets (blur, jpeg), an untunable method alpha, method beta
// tuned over [0.3, 0.5, 0.7], three metrics, and builtin capabilities.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	seed := int64(1337)
	cfgVal := config.Default()
	cfgVal.ProjectName = "restorebench-test"
	cfgVal.Seed = &seed
	cfgVal.Paths = config.Paths{
		DataDir:    filepath.Join(base, "data"),
		ResultsDir: filepath.Join(base, "results"),
		LogDir:     filepath.Join(base, "results", "logs"),
	}
	cfgVal.Dataset.ImageDir = filepath.Join(base, "data", "images")
	cfgVal.Dataset.PartitionFile = filepath.Join(base, "data", "partition.txt")
	cfgVal.Dataset.Splits = []string{"test"}
	cfgVal.Alignment = config.Alignment{ExpectedWidth: ImageSize, ExpectedHeight: ImageSize, SampleSize: 0}
	cfgVal.Degradations = []config.Degradation{
		{Name: "blur", Kind: "gaussian_blur", Params: map[string]float64{"sigma": 2}},
		{Name: "jpeg", Kind: "jpeg", Params: map[string]float64{"quality": 30}},
	}
	cfgVal.Degrade.Capability = config.Capability{Builtin: "copy"}
	cfgVal.Methods = []config.Method{
		{Name: "alpha", Capability: config.Capability{Builtin: "copy"}},
		{Name: "beta", TuningKnob: "fidelity_weight", TuningGrid: []float64{0.3, 0.5, 0.7}, Exclusive: true,
			Capability: config.Capability{Builtin: "copy"}},
	}
	cfgVal.Score = config.Score{Metrics: []string{"psnr", "ssim", "lpips"}, Capability: config.Capability{Builtin: "byte_match"}}
	cfgVal.Execution.Workers = 4
	cfgVal.Execution.StorageRetryInitialMS = 1
	cfgVal.Logging = config.Logging{Format: "json", Level: "error", RetentionDays: 30}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithThreshold sets the stage failure threshold.
func WithThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Execution.FailureThreshold = threshold
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Execution.Workers = workers
	}
}

// WithStubbedBinaries writes no-op executables for names and prepends them
// to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		if tt, ok := b.t.(*testing.T); ok {
			tt.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
			return
		}
		b.t.Fatalf("WithStubbedBinaries requires *testing.T")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
