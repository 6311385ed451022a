package stage

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"restorebench/internal/fileutil"
	"restorebench/internal/manifest"
	"restorebench/internal/matrix"
	"restorebench/internal/pipeline"
)

type figures struct{}

func (figures) Stage() pipeline.StageID { return pipeline.StageFigures }

func (figures) Plan(_ context.Context, rc *RunContext) ([]Task, error) {
	scores, err := rc.Manifest(pipeline.StageScore)
	if err != nil {
		return nil, err
	}
	values := map[string][]float64{}
	for _, row := range scores.Rows {
		if row.Failed() {
			continue
		}
		rec := manifest.MetricFromRow(row)
		if rec.Value == nil {
			continue
		}
		key := groupKey(rec.Method, rec.PresetName, rec.Tuning, rec.MetricName)
		values[key] = append(values[key], *rec.Value)
	}

	var tasks []Task
	for _, item := range matrix.Expand(rc.Config) {
		for _, metric := range rc.Config.Score.Metrics {
			key := groupKey(item.Method, item.Preset, item.Tuning, metric)
			group := values[key]
			tasks = append(tasks, Task{
				Key: key,
				Run: func(context.Context, *Output) manifest.Row {
					mean, std := Summarize(group)
					return manifest.SummaryRecord{
						Method: item.Method, PresetName: item.Preset, Tuning: item.Tuning, MetricName: metric,
						Mean: mean, Std: std, N: len(group),
					}.Row()
				},
			})
		}
	}
	return tasks, nil
}

func groupKey(method, preset string, tuning *float64, metric string) string {
	return manifest.Key("method", method, "preset_name", preset, "tuning_value", tuning, "metric_name", metric)
}

// Summarize returns the mean and sample standard deviation of values. Mean
// is nil for an empty group and std is nil for fewer than two values.
func Summarize(values []float64) (mean, std *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	if len(values) < 2 {
		return &m, nil
	}
	sq := 0.0
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	s := math.Sqrt(sq / float64(len(values)-1))
	return &m, &s
}

// Finalize exports the metric and summary tables.
func (figures) Finalize(_ context.Context, rc *RunContext, m *manifest.Manifest) error {
	scores, err := rc.Manifest(pipeline.StageScore)
	if err != nil {
		return err
	}
	metricRows := [][]string{{"id", "preset_name", "method", "tuning_value", "metric_name", "value", "status", "reason"}}
	for _, row := range scores.Rows {
		rec := manifest.MetricFromRow(row)
		metricRows = append(metricRows, []string{
			rec.ID, rec.PresetName, rec.Method, optional(rec.Tuning), rec.MetricName, optional(rec.Value),
			row.String("status"), rec.Reason,
		})
	}
	if err := writeCSV(rc.Layout.Table("metrics.csv"), metricRows); err != nil {
		return err
	}

	summaryRows := [][]string{{"method", "preset_name", "tuning_value", "metric_name", "mean", "std", "n"}}
	for _, row := range m.Rows {
		rec := manifest.SummaryFromRow(row)
		summaryRows = append(summaryRows, []string{
			rec.Method, rec.PresetName, optional(rec.Tuning), rec.MetricName,
			optional(rec.Mean), optional(rec.Std), strconv.Itoa(rec.N),
		})
	}
	if err := writeCSV(rc.Layout.Table("summary.csv"), summaryRows); err != nil {
		return err
	}
	return fileutil.WriteAtomic(rc.Layout.Table("summary.txt"), []byte(RenderSummary(m)+"\n"), 0o644)
}

// RenderSummary draws the summary manifest as a text table.
func RenderSummary(m *manifest.Manifest) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Method", "Preset", "Tuning", "Metric", "Mean", "Std", "N"})
	for _, row := range m.Rows {
		rec := manifest.SummaryFromRow(row)
		tw.AppendRow(table.Row{
			rec.Method, rec.PresetName, matrix.FormatTuning(rec.Tuning), rec.MetricName,
			fixed(rec.Mean), fixed(rec.Std), rec.N,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	return tw.Render()
}

func writeCSV(path string, rows [][]string) error {
	return fileutil.WriteAtomicFunc(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fixed(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
