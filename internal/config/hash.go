package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
)

type experimentView struct {
	ProjectName      string        `json:"project_name"`
	Seed             int64         `json:"seed"`
	Splits           []string      `json:"splits"`
	SampleLimit      int           `json:"sample_limit"`
	Alignment        Alignment     `json:"alignment"`
	Degradations     []Degradation `json:"degradations"`
	Degrade          Capability    `json:"degrade"`
	Methods          []Method      `json:"methods"`
	Metrics          []string      `json:"metrics"`
	Scorer           Capability    `json:"scorer"`
	FailureThreshold float64       `json:"failure_threshold"`
}

// Hash returns a stable digest of everything that determines experiment
// outputs. Directory locations, concurrency, storage, and logging settings are
// excluded; declaration order of presets, methods, grids, and metrics is
// significant because it fixes row order.
func (c *Config) Hash() (string, error) {
	view := experimentView{
		ProjectName:      c.ProjectName,
		Seed:             c.SeedValue(),
		Splits:           c.Dataset.Splits,
		SampleLimit:      c.Dataset.SampleLimit,
		Alignment:        c.Alignment,
		Degradations:     c.Degradations,
		Degrade:          c.Degrade.Capability,
		Methods:          c.Methods,
		Metrics:          c.Score.Metrics,
		Scorer:           c.Score.Capability,
		FailureThreshold: c.Execution.FailureThreshold,
	}
	data, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("encode config hash view: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
