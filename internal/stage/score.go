package stage

import (
	"context"
	"fmt"
	"math"

	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

type score struct{}

func (score) Stage() pipeline.StageID { return pipeline.StageScore }

// Plan scores every ok restoration of both restore stages against every
// metric. Failed restorations stay visible through their own manifest's
// failure count.
func (score) Plan(_ context.Context, rc *RunContext) ([]Task, error) {
	if rc.Capabilities == nil || rc.Capabilities.Score == nil {
		return nil, fmt.Errorf("no score capability bound")
	}
	scorer := rc.Capabilities.Score
	exclusive := rc.Config.Score.Exclusive
	var tasks []Task
	for _, id := range []pipeline.StageID{pipeline.StageRestoreA, pipeline.StageRestoreB} {
		restored, err := rc.Manifest(id)
		if err != nil {
			return nil, err
		}
		for _, row := range restored.Rows {
			if row.Failed() {
				continue
			}
			rec := manifest.RestorationFromRow(row)
			for _, metric := range rc.Config.Score.Metrics {
				tasks = append(tasks, Task{
					Key: manifest.Key("id", rec.ID, "preset_name", rec.PresetName, "method", rec.Method,
						"tuning_value", rec.Tuning, "metric_name", metric),
					Exclusive: exclusive,
					Run: func(ctx context.Context, _ *Output) manifest.Row {
						return scoreOne(ctx, scorer, rec, metric).Row()
					},
				})
			}
		}
	}
	return tasks, nil
}

func scoreOne(ctx context.Context, scorer services.Scorer, rec manifest.RestorationRecord, metric string) manifest.MetricRecord {
	out := manifest.MetricRecord{
		ID: rec.ID, PresetName: rec.PresetName, Method: rec.Method, Tuning: rec.Tuning, MetricName: metric,
	}
	value, err := scorer.Score(ctx, services.ScoreRequest{
		SampleID:    rec.ID,
		GroundTruth: rec.GTPath,
		Restored:    rec.RestoredPath,
		Metric:      metric,
	})
	switch {
	case err != nil:
		out.Reason = Reason(err)
	case math.IsNaN(value) || math.IsInf(value, 0):
		out.Reason = fmt.Sprintf("%s returned a non-finite value", metric)
	default:
		out.Value = &value
	}
	return out
}
