package provenance

import (
	"fmt"

	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
)

// Mismatch is one disagreement between the results tree and its run
// manifest.
type Mismatch struct {
	Stage  string
	Detail string
}

// Report is the outcome of Verify.
type Report struct {
	RunHash    string
	ConfigHash string
	Stages     map[string]StageRecord
	Mismatches []Mismatch
}

// OK reports whether the results tree matches its run manifest.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// Verify rereads every stage manifest, recomputes its hash, and compares the
// results against the run manifest at path. When configHash is non-empty it
// must match the recorded config hash.
func Verify(path string, store *manifest.Store, configHash string) (Report, error) {
	rm, err := Read(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{RunHash: rm.RunHash, ConfigHash: rm.ConfigHash, Stages: map[string]StageRecord{}}

	recomputed, err := rm.computeHash()
	if err != nil {
		return report, err
	}
	if recomputed != rm.RunHash {
		report.Mismatches = append(report.Mismatches, Mismatch{Stage: string(pipeline.StageAggregate), Detail: "run hash does not match run manifest content"})
	}
	if configHash != "" && configHash != rm.ConfigHash {
		report.Mismatches = append(report.Mismatches, Mismatch{
			Stage:  "config",
			Detail: fmt.Sprintf("config hash %s differs from recorded %s", configHash, rm.ConfigHash),
		})
	}

	for _, id := range pipeline.ManifestStages() {
		want, recorded := rm.PerStage[string(id)]
		m, err := store.Read(id)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{Stage: string(id), Detail: err.Error()})
			continue
		}
		if m.ConfigHash != "" && m.ConfigHash != rm.ConfigHash {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Stage:  string(id),
				Detail: fmt.Sprintf("manifest produced under config %s, run manifest records %s", m.ConfigHash, rm.ConfigHash),
			})
		}
		got := StageRecord{ManifestHash: m.ContentHash, RowCount: m.Len(), FailureCount: m.FailureCount}
		report.Stages[string(id)] = got
		switch {
		case !recorded:
			report.Mismatches = append(report.Mismatches, Mismatch{Stage: string(id), Detail: "stage missing from run manifest"})
		case got != want:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Stage:  string(id),
				Detail: fmt.Sprintf("on disk %s (%d rows, %d failed), recorded %s (%d rows, %d failed)",
					got.ManifestHash, got.RowCount, got.FailureCount, want.ManifestHash, want.RowCount, want.FailureCount),
			})
		}
	}
	return report, nil
}
