package matrix_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"restorebench/internal/config"
	"restorebench/internal/matrix"
)

func scenarioConfig() *config.Config {
	cfg := config.Default()
	cfg.Degradations = []config.Degradation{{Name: "blur", Kind: "gaussian_blur"}, {Name: "jpeg", Kind: "jpeg"}}
	cfg.Methods = []config.Method{
		{Name: "alpha"},
		{Name: "beta", TuningKnob: "w", TuningGrid: []float64{0.3, 0.5, 0.7}},
	}
	return &cfg
}

func render(items []matrix.WorkItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Preset + "/" + item.Method + "/" + item.TuningLabel()
	}
	return out
}

func TestExpandCanonicalOrder(t *testing.T) {
	got := render(matrix.Expand(scenarioConfig()))
	want := []string{
		"blur/alpha/default",
		"blur/beta/0.3", "blur/beta/0.5", "blur/beta/0.7",
		"jpeg/alpha/default",
		"jpeg/beta/0.3", "jpeg/beta/0.5", "jpeg/beta/0.7",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandIsPure(t *testing.T) {
	cfg := scenarioConfig()
	first := matrix.Expand(cfg)
	*first[1].Tuning = 99
	second := matrix.Expand(cfg)
	if *second[1].Tuning != 0.3 {
		t.Fatalf("expansion shares state with previous result: %v", *second[1].Tuning)
	}
	if cfg.Methods[1].TuningGrid[0] != 0.3 {
		t.Fatal("expansion mutated the config")
	}
}

func TestCardinality(t *testing.T) {
	cfg := scenarioConfig()
	if got := matrix.Cardinality(5, 2, cfg.Methods[0]); got != 10 {
		t.Fatalf("method A cardinality = %d, want 10", got)
	}
	if got := matrix.Cardinality(5, 2, cfg.Methods[1]); got != 30 {
		t.Fatalf("method B cardinality = %d, want 30", got)
	}
	if got := len(matrix.ForMethod(matrix.Expand(cfg), "beta")); got != 6 {
		t.Fatalf("beta work items = %d, want 6", got)
	}
}
