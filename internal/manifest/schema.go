package manifest

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"restorebench/internal/pipeline"
)

// SchemaVersion is written into every manifest header.
const SchemaVersion = 1

// Kind is the JSON type a field must carry.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInteger
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Field declares one column of a stage manifest.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	Enum     []string
	// Artifact marks a path that must exist and be non-empty for ok rows.
	Artifact bool
}

// Schema declares a stage's row shape and the fields forming its unique key.
type Schema struct {
	Stage   pipeline.StageID
	Version int
	Fields  []Field
	Key     []string
}

// Status values shared by every per-item manifest.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var statusEnum = []string{StatusOK, StatusFailed}

var (
	fID         = Field{Name: "id", Kind: KindString}
	fPreset     = Field{Name: "preset_name", Kind: KindString}
	fMethod     = Field{Name: "method", Kind: KindString}
	fTuning     = Field{Name: "tuning_value", Kind: KindNumber, Nullable: true}
	fMetric     = Field{Name: "metric_name", Kind: KindString}
	fSplit      = Field{Name: "split", Kind: KindEnum, Enum: []string{"train", "val", "test"}}
	fStatus     = Field{Name: "status", Kind: KindEnum, Enum: statusEnum}
	fReason     = Field{Name: "reason", Kind: KindString}
	fGTPath     = Field{Name: "gt_path", Kind: KindString}
	fDegPath    = Field{Name: "degraded_path", Kind: KindString}
	fRestPath   = Field{Name: "restored_path", Kind: KindString}
	fWidth      = Field{Name: "width", Kind: KindInteger}
	fHeight     = Field{Name: "height", Kind: KindInteger}
	fValue      = Field{Name: "value", Kind: KindNumber, Nullable: true}
	fMean       = Field{Name: "mean", Kind: KindNumber, Nullable: true}
	fStd        = Field{Name: "std", Kind: KindNumber, Nullable: true}
	fN          = Field{Name: "n", Kind: KindInteger}
	artifact    = func(f Field) Field { f.Artifact = true; return f }
	restoreRows = []Field{fID, fPreset, fMethod, fTuning, fGTPath, fDegPath, artifact(fRestPath), fStatus, fReason}
	restoreKey  = []string{"id", "preset_name", "method", "tuning_value"}
)

// SchemaFor returns the declared schema of a manifest-producing stage.
func SchemaFor(stage pipeline.StageID) (Schema, error) {
	switch stage {
	case pipeline.StageIngest:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: []Field{fID, artifact(fGTPath), fSplit, fStatus, fReason}, Key: []string{"id"}}, nil
	case pipeline.StageAlign:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: []Field{fID, fWidth, fHeight, fStatus, fReason}, Key: []string{"id"}}, nil
	case pipeline.StageDegrade:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: []Field{fID, fPreset, fGTPath, artifact(fDegPath), fSplit, fStatus, fReason}, Key: []string{"id", "preset_name"}}, nil
	case pipeline.StageRestoreA, pipeline.StageRestoreB:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: restoreRows, Key: restoreKey}, nil
	case pipeline.StageScore:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: []Field{fID, fPreset, fMethod, fTuning, fMetric, fValue, fStatus, fReason}, Key: append(slices.Clone(restoreKey), "metric_name")}, nil
	case pipeline.StageFigures:
		return Schema{Stage: stage, Version: SchemaVersion, Fields: []Field{fMethod, fPreset, fTuning, fMetric, fMean, fStd, fN}, Key: []string{"method", "preset_name", "tuning_value", "metric_name"}}, nil
	default:
		return Schema{}, fmt.Errorf("stage %s has no row manifest", stage)
	}
}

// Field looks up a declared field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasStatus reports whether rows carry an ok/failed status.
func (s Schema) HasStatus() bool {
	_, ok := s.Field("status")
	return ok
}

// Validate checks field presence and type, rejecting undeclared fields. It
// returns the row with numbers normalized (integers as int64, numbers as
// float64) so in-memory and decoded rows compare equal.
func (s Schema) Validate(row Row) (Row, error) {
	out := make(Row, len(s.Fields))
	for _, field := range s.Fields {
		value, ok := row[field.Name]
		if !ok {
			return nil, fmt.Errorf("missing field %q", field.Name)
		}
		normalized, err := field.check(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		out[field.Name] = normalized
	}
	if len(row) != len(s.Fields) {
		for name := range row {
			if _, ok := s.Field(name); !ok {
				return nil, fmt.Errorf("undeclared field %q", name)
			}
		}
	}
	return out, nil
}

func (f Field) check(value any) (any, error) {
	if value == nil {
		if f.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("null not allowed")
	}
	switch f.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		if !slices.Contains(f.Enum, s) {
			return nil, fmt.Errorf("value %q not in %v", s, f.Enum)
		}
		return s, nil
	case KindNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", value)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("non-finite number")
		}
		return n, nil
	case KindInteger:
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("expected integer, got %v", value)
		}
		return int64(n), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", f.Kind)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// KeyOf renders the schema key of row as "name=value|name=value".
func (s Schema) KeyOf(row Row) string {
	parts := make([]string, len(s.Key))
	for i, name := range s.Key {
		parts[i] = name + "=" + formatKeyValue(row[name])
	}
	return strings.Join(parts, "|")
}

func formatKeyValue(value any) string {
	if value == nil {
		return "null"
	}
	if p, ok := value.(*float64); ok {
		if p == nil {
			return "null"
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	if n, ok := toFloat(value); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Key builds a key string from ordered name/value pairs, matching KeyOf.
func Key(pairs ...any) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprint(pairs[i])+"="+formatKeyValue(pairs[i+1]))
	}
	return strings.Join(parts, "|")
}
