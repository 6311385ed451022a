package stage

import (
	"context"
	"fmt"
	"maps"

	"restorebench/internal/fileutil"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

type degrade struct{}

func (degrade) Stage() pipeline.StageID { return pipeline.StageDegrade }

func (degrade) WritesArtifacts() bool { return true }

func (degrade) Plan(_ context.Context, rc *RunContext) ([]Task, error) {
	samples, err := rc.Manifest(pipeline.StageIngest)
	if err != nil {
		return nil, err
	}
	if rc.Capabilities == nil || rc.Capabilities.Degrade == nil {
		return nil, fmt.Errorf("no degrade capability bound")
	}
	degrader := rc.Capabilities.Degrade
	seed := rc.Config.SeedValue()
	var tasks []Task
	for _, preset := range rc.Config.Degradations {
		params := maps.Clone(preset.Params)
		for _, row := range samples.Rows {
			sample := manifest.SampleFromRow(row)
			failed := row.Failed()
			tasks = append(tasks, Task{
				Key: manifest.Key("id", sample.ID, "preset_name", preset.Name),
				Run: func(ctx context.Context, out *Output) manifest.Row {
					rec := manifest.DegradedRecord{ID: sample.ID, PresetName: preset.Name, GTPath: sample.GTPath, Split: sample.Split}
					if failed {
						rec.Reason = upstreamFailed(pipeline.StageIngest)
						return rec.Row()
					}
					write, record, err := out.Paths(preset.Name, sample.ID)
					if err != nil {
						rec.Reason = Reason(err)
						return rec.Row()
					}
					err = degrader.Degrade(ctx, services.DegradeRequest{
						SampleID: sample.ID,
						Input:    sample.GTPath,
						Output:   write,
						Preset:   preset.Name,
						Kind:     preset.Kind,
						Params:   params,
						Seed:     ItemSeed(seed, preset.Name, sample.ID),
					})
					rec.Reason = checkArtifact(err, write)
					if rec.Reason == "" {
						rec.DegradedPath = record
					}
					return rec.Row()
				},
			})
		}
	}
	return tasks, nil
}

// Finalize exports the degraded-pairs table.
func (degrade) Finalize(_ context.Context, rc *RunContext, m *manifest.Manifest) error {
	rows := [][]string{{"id", "path_gt", "path_deg", "degradation", "split"}}
	for _, row := range m.Rows {
		rec := manifest.DegradedFromRow(row)
		rows = append(rows, []string{rec.ID, rec.GTPath, rec.DegradedPath, rec.PresetName, rec.Split})
	}
	return writeCSV(rc.Layout.DegradeCSVPath(), rows)
}

// checkArtifact turns a capability result into a failure reason, treating a
// missing or empty output as a failure.
func checkArtifact(err error, path string) string {
	if err != nil {
		return Reason(err)
	}
	if !fileutil.NonEmptyFile(path) {
		return "capability produced no output"
	}
	return ""
}
