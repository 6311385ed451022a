package services

import "context"

// DegradeRequest describes one synthetic degradation of a ground-truth sample.
type DegradeRequest struct {
	SampleID string
	Input    string
	Output   string
	Preset   string
	Kind     string
	Params   map[string]float64
	Seed     uint64
}

// RestoreRequest describes one restoration of a degraded sample. Tuning is
// nil for methods without a tuning knob.
type RestoreRequest struct {
	SampleID string
	Input    string
	Output   string
	Preset   string
	Method   string
	Tuning   *float64
	Seed     uint64
}

// ScoreRequest asks for one metric value comparing a restoration with its
// ground truth.
type ScoreRequest struct {
	SampleID    string
	GroundTruth string
	Restored    string
	Metric      string
}

// Degrader produces a degraded artifact at req.Output.
type Degrader interface {
	Degrade(ctx context.Context, req DegradeRequest) error
}

// Restorer produces a restored artifact at req.Output.
type Restorer interface {
	Restore(ctx context.Context, req RestoreRequest) error
}

// Scorer returns a metric value.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (float64, error)
}

// Capability describes an implementation for display and provenance.
type Capability interface {
	Describe() string
}
