package manifest

// Row is one manifest record keyed by field name.
type Row map[string]any

// String returns a string field, or "" when absent.
func (r Row) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Float returns a nullable numeric field.
func (r Row) Float(name string) *float64 {
	n, ok := toFloat(r[name])
	if !ok {
		return nil
	}
	return &n
}

// Int returns an integer field, or 0.
func (r Row) Int(name string) int {
	n, _ := toFloat(r[name])
	return int(n)
}

// Failed reports whether the row carries status=failed.
func (r Row) Failed() bool { return r.String("status") == StatusFailed }

func nullable(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func statusFor(reason string) string {
	if reason != "" {
		return StatusFailed
	}
	return StatusOK
}

// SampleRecord is a row of the ingest manifest.
type SampleRecord struct {
	ID     string
	GTPath string
	Split  string
	Reason string
}

func (r SampleRecord) Row() Row {
	return Row{"id": r.ID, "gt_path": r.GTPath, "split": r.Split, "status": statusFor(r.Reason), "reason": r.Reason}
}

// SampleFromRow decodes an ingest row.
func SampleFromRow(row Row) SampleRecord {
	return SampleRecord{ID: row.String("id"), GTPath: row.String("gt_path"), Split: row.String("split"), Reason: row.String("reason")}
}

// AlignmentRecord is a row of the align manifest.
type AlignmentRecord struct {
	ID     string
	Width  int
	Height int
	Reason string
}

func (r AlignmentRecord) Row() Row {
	return Row{"id": r.ID, "width": int64(r.Width), "height": int64(r.Height), "status": statusFor(r.Reason), "reason": r.Reason}
}

// DegradedRecord is a row of the degrade manifest.
type DegradedRecord struct {
	ID           string
	PresetName   string
	GTPath       string
	DegradedPath string
	Split        string
	Reason       string
}

func (r DegradedRecord) Row() Row {
	return Row{
		"id": r.ID, "preset_name": r.PresetName, "gt_path": r.GTPath, "degraded_path": r.DegradedPath,
		"split": r.Split, "status": statusFor(r.Reason), "reason": r.Reason,
	}
}

// DegradedFromRow decodes a degrade row.
func DegradedFromRow(row Row) DegradedRecord {
	return DegradedRecord{
		ID: row.String("id"), PresetName: row.String("preset_name"), GTPath: row.String("gt_path"),
		DegradedPath: row.String("degraded_path"), Split: row.String("split"), Reason: row.String("reason"),
	}
}

// RestorationRecord is a row of a restore manifest.
type RestorationRecord struct {
	ID           string
	PresetName   string
	Method       string
	Tuning       *float64
	GTPath       string
	DegradedPath string
	RestoredPath string
	Reason       string
}

func (r RestorationRecord) Row() Row {
	return Row{
		"id": r.ID, "preset_name": r.PresetName, "method": r.Method, "tuning_value": nullable(r.Tuning),
		"gt_path": r.GTPath, "degraded_path": r.DegradedPath, "restored_path": r.RestoredPath,
		"status": statusFor(r.Reason), "reason": r.Reason,
	}
}

// RestorationFromRow decodes a restore row.
func RestorationFromRow(row Row) RestorationRecord {
	return RestorationRecord{
		ID: row.String("id"), PresetName: row.String("preset_name"), Method: row.String("method"),
		Tuning: row.Float("tuning_value"), GTPath: row.String("gt_path"), DegradedPath: row.String("degraded_path"),
		RestoredPath: row.String("restored_path"), Reason: row.String("reason"),
	}
}

// OK reports whether the restoration succeeded.
func (r RestorationRecord) OK() bool { return r.Reason == "" }

// MetricRecord is a row of the score manifest. Value is nil when scoring
// failed.
type MetricRecord struct {
	ID         string
	PresetName string
	Method     string
	Tuning     *float64
	MetricName string
	Value      *float64
	Reason     string
}

func (r MetricRecord) Row() Row {
	return Row{
		"id": r.ID, "preset_name": r.PresetName, "method": r.Method, "tuning_value": nullable(r.Tuning),
		"metric_name": r.MetricName, "value": nullable(r.Value), "status": statusFor(r.Reason), "reason": r.Reason,
	}
}

// MetricFromRow decodes a score row.
func MetricFromRow(row Row) MetricRecord {
	return MetricRecord{
		ID: row.String("id"), PresetName: row.String("preset_name"), Method: row.String("method"),
		Tuning: row.Float("tuning_value"), MetricName: row.String("metric_name"), Value: row.Float("value"),
		Reason: row.String("reason"),
	}
}

// SummaryRecord aggregates one (method, preset, tuning, metric) group.
type SummaryRecord struct {
	Method     string
	PresetName string
	Tuning     *float64
	MetricName string
	Mean       *float64
	Std        *float64
	N          int
}

func (r SummaryRecord) Row() Row {
	return Row{
		"method": r.Method, "preset_name": r.PresetName, "tuning_value": nullable(r.Tuning),
		"metric_name": r.MetricName, "mean": nullable(r.Mean), "std": nullable(r.Std), "n": int64(r.N),
	}
}

// SummaryFromRow decodes a figures row.
func SummaryFromRow(row Row) SummaryRecord {
	return SummaryRecord{
		Method: row.String("method"), PresetName: row.String("preset_name"), Tuning: row.Float("tuning_value"),
		MetricName: row.String("metric_name"), Mean: row.Float("mean"), Std: row.Float("std"), N: row.Int("n"),
	}
}

// Recorder is implemented by every typed record.
type Recorder interface {
	Row() Row
}

// Rows converts typed records into rows.
func Rows[T Recorder](records []T) []Row {
	out := make([]Row, len(records))
	for i, record := range records {
		out[i] = record.Row()
	}
	return out
}
