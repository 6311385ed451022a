// Package pipeline names the fixed, linear sequence of stages that make up a
// restorebench run.
//
// StageID is a closed set: every identifier appears in Order exactly once and
// the position in Order is the only scheduling information the orchestrator
// uses. There is no branching and no merging; a stage may only consume the
// manifests of stages that precede it.
package pipeline

import (
	"fmt"
	"strings"
)

// StageID identifies one step of the pipeline.
type StageID string

const (
	StageIngest    StageID = "ingest"
	StageAlign     StageID = "align"
	StageDegrade   StageID = "degrade"
	StageRestoreA  StageID = "restore_a"
	StageRestoreB  StageID = "restore_b"
	StageScore     StageID = "score"
	StageFigures   StageID = "figures"
	StageAggregate StageID = "aggregate"
)

var order = []StageID{
	StageIngest,
	StageAlign,
	StageDegrade,
	StageRestoreA,
	StageRestoreB,
	StageScore,
	StageFigures,
	StageAggregate,
}

var labels = map[StageID]string{
	StageIngest:    "data ingestion check",
	StageAlign:     "alignment check",
	StageDegrade:   "synthetic degradation",
	StageRestoreA:  "restoration (method A)",
	StageRestoreB:  "restoration (method B)",
	StageScore:     "metric scoring",
	StageFigures:   "summary tables",
	StageAggregate: "run manifest and provenance",
}

var upstream = map[StageID][]StageID{
	StageIngest:    nil,
	StageAlign:     {StageIngest},
	StageDegrade:   {StageIngest},
	StageRestoreA:  {StageDegrade},
	StageRestoreB:  {StageDegrade},
	StageScore:     {StageRestoreA, StageRestoreB},
	StageFigures:   {StageScore},
	StageAggregate: {StageIngest, StageAlign, StageDegrade, StageRestoreA, StageRestoreB, StageScore, StageFigures},
}

// Order returns the fixed stage order.
func Order() []StageID {
	cp := make([]StageID, len(order))
	copy(cp, order)
	return cp
}

// ManifestStages returns the stages that publish a row manifest. The
// aggregate stage publishes the run manifest instead.
func ManifestStages() []StageID {
	out := make([]StageID, 0, len(order)-1)
	for _, id := range order {
		if id != StageAggregate {
			out = append(out, id)
		}
	}
	return out
}

// Parse converts user input into a known StageID.
func Parse(value string) (StageID, error) {
	normalized := StageID(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := labels[normalized]; ok {
		return normalized, nil
	}
	return "", fmt.Errorf("unknown stage %q (known: %s)", value, strings.Join(Names(), ", "))
}

// Names returns the stage identifiers as strings, in order.
func Names() []string {
	names := make([]string, len(order))
	for i, id := range order {
		names[i] = string(id)
	}
	return names
}

// Index reports the position of id in the stage order, or -1.
func (id StageID) Index() int {
	for i, candidate := range order {
		if candidate == id {
			return i
		}
	}
	return -1
}

// Label returns a human readable description.
func (id StageID) Label() string {
	if label, ok := labels[id]; ok {
		return label
	}
	return string(id)
}

// Upstream returns the stages whose manifests id consumes.
func (id StageID) Upstream() []StageID {
	deps := upstream[id]
	cp := make([]StageID, len(deps))
	copy(cp, deps)
	return cp
}

// IsRestore reports whether id is one of the restoration stages.
func (id StageID) IsRestore() bool {
	return id == StageRestoreA || id == StageRestoreB
}

// MethodSlot returns the zero-based method position bound to a restoration
// stage.
func (id StageID) MethodSlot() (int, bool) {
	switch id {
	case StageRestoreA:
		return 0, true
	case StageRestoreB:
		return 1, true
	default:
		return 0, false
	}
}

// RestoreStage is the inverse of MethodSlot.
func RestoreStage(slot int) (StageID, bool) {
	switch slot {
	case 0:
		return StageRestoreA, true
	case 1:
		return StageRestoreB, true
	default:
		return "", false
	}
}

func (id StageID) String() string { return string(id) }
