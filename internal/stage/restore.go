package stage

import (
	"context"
	"fmt"

	"restorebench/internal/manifest"
	"restorebench/internal/matrix"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

type restore struct {
	id pipeline.StageID
}

func (r restore) Stage() pipeline.StageID { return r.id }

func (restore) WritesArtifacts() bool { return true }

func (r restore) Plan(_ context.Context, rc *RunContext) ([]Task, error) {
	slot, ok := r.id.MethodSlot()
	if !ok {
		return nil, fmt.Errorf("stage %s is not a restoration stage", r.id)
	}
	method, ok := rc.Config.Method(slot)
	if !ok {
		return nil, fmt.Errorf("no method configured for %s", r.id)
	}
	if rc.Capabilities == nil {
		return nil, fmt.Errorf("no capabilities bound")
	}
	restorer, err := rc.Capabilities.Restorer(slot)
	if err != nil {
		return nil, err
	}
	degraded, err := rc.Manifest(pipeline.StageDegrade)
	if err != nil {
		return nil, err
	}

	byPreset := map[string][]manifest.Row{}
	for _, row := range degraded.Rows {
		preset := row.String("preset_name")
		byPreset[preset] = append(byPreset[preset], row)
	}

	seed := rc.Config.SeedValue()
	var tasks []Task
	for _, item := range matrix.ForMethod(matrix.Expand(rc.Config), method.Name) {
		for _, row := range byPreset[item.Preset] {
			deg := manifest.DegradedFromRow(row)
			failed := row.Failed()
			tasks = append(tasks, Task{
				Key:       manifest.Key("id", deg.ID, "preset_name", item.Preset, "method", item.Method, "tuning_value", item.Tuning),
				Exclusive: method.Exclusive,
				Run: func(ctx context.Context, out *Output) manifest.Row {
					rec := manifest.RestorationRecord{
						ID: deg.ID, PresetName: item.Preset, Method: item.Method, Tuning: item.Tuning,
						GTPath: deg.GTPath, DegradedPath: deg.DegradedPath,
					}
					if failed {
						rec.Reason = upstreamFailed(pipeline.StageDegrade)
						return rec.Row()
					}
					write, record, err := out.Paths(item.Preset, item.TuningLabel(), deg.ID)
					if err != nil {
						rec.Reason = Reason(err)
						return rec.Row()
					}
					err = restorer.Restore(ctx, services.RestoreRequest{
						SampleID: deg.ID,
						Input:    deg.DegradedPath,
						Output:   write,
						Preset:   item.Preset,
						Method:   item.Method,
						Tuning:   item.Tuning,
						Seed:     ItemSeed(seed, item.Preset, deg.ID),
					})
					rec.Reason = checkArtifact(err, write)
					if rec.Reason == "" {
						rec.RestoredPath = record
					}
					return rec.Row()
				},
			})
		}
	}
	return tasks, nil
}
