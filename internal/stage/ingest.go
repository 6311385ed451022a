package stage

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"restorebench/internal/dataset"
	"restorebench/internal/fileutil"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
)

type ingest struct{}

func (ingest) Stage() pipeline.StageID { return pipeline.StageIngest }

func (ingest) Plan(ctx context.Context, rc *RunContext) ([]Task, error) {
	if rc.Samples == nil {
		return nil, fmt.Errorf("no sample source configured")
	}
	samples, err := rc.Samples.Samples(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, len(samples))
	for i, sample := range samples {
		tasks[i] = Task{
			Key: manifest.Key("id", sample.ID),
			Run: func(ctx context.Context, _ *Output) manifest.Row {
				return checkSample(ctx, sample).Row()
			},
		}
	}
	return tasks, nil
}

func checkSample(ctx context.Context, sample dataset.Sample) manifest.SampleRecord {
	rec := manifest.SampleRecord{ID: sample.ID, GTPath: sample.GTPath, Split: string(sample.Split)}
	if err := ctx.Err(); err != nil {
		rec.Reason = Reason(err)
		return rec
	}
	if !fileutil.NonEmptyFile(sample.GTPath) {
		rec.Reason = "ground truth image missing or empty"
	}
	return rec
}

type align struct{}

func (align) Stage() pipeline.StageID { return pipeline.StageAlign }

func (align) Plan(_ context.Context, rc *RunContext) ([]Task, error) {
	samples, err := rc.Manifest(pipeline.StageIngest)
	if err != nil {
		return nil, err
	}
	var ok []manifest.SampleRecord
	for _, row := range samples.Rows {
		if !row.Failed() {
			ok = append(ok, manifest.SampleFromRow(row))
		}
	}
	picked := dataset.Subsample(ok, rc.Config.Alignment.SampleSize, rc.Config.SeedValue())
	want := rc.Config.Alignment
	tasks := make([]Task, len(picked))
	for i, sample := range picked {
		tasks[i] = Task{
			Key: manifest.Key("id", sample.ID),
			Run: func(ctx context.Context, _ *Output) manifest.Row {
				return checkAlignment(ctx, sample, want.ExpectedWidth, want.ExpectedHeight).Row()
			},
		}
	}
	return tasks, nil
}

func checkAlignment(ctx context.Context, sample manifest.SampleRecord, width, height int) manifest.AlignmentRecord {
	rec := manifest.AlignmentRecord{ID: sample.ID}
	if err := ctx.Err(); err != nil {
		rec.Reason = Reason(err)
		return rec
	}
	f, err := os.Open(sample.GTPath)
	if err != nil {
		rec.Reason = Reason(err)
		return rec
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		rec.Reason = "decode header: " + Reason(err)
		return rec
	}
	rec.Width, rec.Height = cfg.Width, cfg.Height
	if (width > 0 && cfg.Width != width) || (height > 0 && cfg.Height != height) {
		rec.Reason = fmt.Sprintf("%s image is %dx%d, expected %dx%d", format, cfg.Width, cfg.Height, width, height)
	}
	return rec
}
