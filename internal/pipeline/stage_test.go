package pipeline_test

import (
	"testing"

	"restorebench/internal/pipeline"
)

func TestUpstreamStagesPrecedeConsumers(t *testing.T) {
	for _, id := range pipeline.Order() {
		for _, dep := range id.Upstream() {
			if dep.Index() >= id.Index() {
				t.Fatalf("stage %s consumes %s which does not precede it", id, dep)
			}
		}
	}
}

func TestSelectionStages(t *testing.T) {
	cases := []struct {
		name  string
		stage string
		upTo  string
		want  []pipeline.StageID
	}{
		{"default", "", "", pipeline.Order()},
		{"all", "all", "", pipeline.Order()},
		{"single", "degrade", "", []pipeline.StageID{pipeline.StageDegrade}},
		{"up-to", "", "degrade", []pipeline.StageID{pipeline.StageIngest, pipeline.StageAlign, pipeline.StageDegrade}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := pipeline.NewSelection(tc.stage, tc.upTo)
			if err != nil {
				t.Fatalf("NewSelection: %v", err)
			}
			got := sel.Stages()
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}

func TestSelectionRejectsUnknownAndConflicting(t *testing.T) {
	if _, err := pipeline.NewSelection("s9", ""); err == nil {
		t.Fatal("expected unknown stage error")
	}
	if _, err := pipeline.NewSelection("degrade", "score"); err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestMethodSlot(t *testing.T) {
	if slot, ok := pipeline.StageRestoreB.MethodSlot(); !ok || slot != 1 {
		t.Fatalf("unexpected slot %d %v", slot, ok)
	}
	if _, ok := pipeline.StageScore.MethodSlot(); ok {
		t.Fatal("score has no method slot")
	}
	if id, ok := pipeline.RestoreStage(0); !ok || id != pipeline.StageRestoreA {
		t.Fatalf("RestoreStage(0) = %s %v", id, ok)
	}
	if _, ok := pipeline.RestoreStage(2); ok {
		t.Fatal("only two restoration slots exist")
	}
}
