// Package provenance aggregates the per-stage manifests of a run into a single
// run manifest and verifies a results tree against it.
//
// The run manifest is a pure function of the config hash, the environment
// descriptor, and each stage's manifest hash and counts. Identical inputs
// produce byte-identical output and therefore an identical run hash.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"restorebench/internal/fileutil"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

// SchemaVersion of run_manifest.json.
const SchemaVersion = 1

// StageRecord summarizes one published stage manifest.
type StageRecord struct {
	ManifestHash string `json:"manifest_hash"`
	RowCount     int    `json:"row_count"`
	FailureCount int    `json:"failure_count"`
}

// RunManifest is the aggregate provenance record for one pipeline execution.
type RunManifest struct {
	SchemaVersion int                    `json:"schema_version"`
	ProjectName   string                 `json:"project_name"`
	ConfigHash    string                 `json:"config_hash"`
	Environment   Environment            `json:"environment_descriptor"`
	PerStage      map[string]StageRecord `json:"per_stage"`
	RunHash       string                 `json:"run_hash"`
}

// Aggregate builds the run manifest from every manifest-producing stage.
// All stages must be present.
func Aggregate(project, configHash string, env Environment, manifests map[pipeline.StageID]*manifest.Manifest) (*RunManifest, error) {
	rm := &RunManifest{
		SchemaVersion: SchemaVersion,
		ProjectName:   project,
		ConfigHash:    configHash,
		Environment:   env,
		PerStage:      make(map[string]StageRecord, len(manifests)),
	}
	for _, id := range pipeline.ManifestStages() {
		m, ok := manifests[id]
		if !ok || m == nil {
			return nil, services.Wrap(services.ErrManifestIntegrity, string(pipeline.StageAggregate), "aggregate",
				fmt.Sprintf("Manifest for %s is missing", id), nil)
		}
		if m.ConfigHash != "" && m.ConfigHash != configHash {
			return nil, services.Wrap(services.ErrManifestIntegrity, string(pipeline.StageAggregate), "aggregate",
				fmt.Sprintf("Manifest for %s was produced under config %s", id, m.ConfigHash), nil)
		}
		rm.PerStage[string(id)] = StageRecord{
			ManifestHash: m.ContentHash,
			RowCount:     m.Len(),
			FailureCount: m.FailureCount,
		}
	}
	hash, err := rm.computeHash()
	if err != nil {
		return nil, err
	}
	rm.RunHash = hash
	return rm, nil
}

// computeHash hashes the canonical encoding of every field except RunHash.
func (rm *RunManifest) computeHash() (string, error) {
	clone := *rm
	clone.RunHash = ""
	data, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("encode run manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Encode renders the run manifest as indented JSON.
func (rm *RunManifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write publishes the run manifest atomically.
func Write(path string, rm *RunManifest) error {
	data, err := rm.Encode()
	if err != nil {
		return services.Wrap(services.ErrStorage, string(pipeline.StageAggregate), "encode", "Failed to encode run manifest", err)
	}
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrStorage, string(pipeline.StageAggregate), "write", "Failed to write run manifest", err)
	}
	return nil
}

// Read loads a run manifest.
func Read(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrManifestIntegrity, string(pipeline.StageAggregate), "read", "Run manifest unavailable", err)
	}
	var rm RunManifest
	if err := json.Unmarshal(data, &rm); err != nil {
		return nil, services.Wrap(services.ErrManifestIntegrity, string(pipeline.StageAggregate), "read", "Run manifest is not valid JSON", err)
	}
	return &rm, nil
}
