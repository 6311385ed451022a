// Package stage runs one pipeline stage as a function of the configuration and
// its upstream manifests.
//
// Each stage definition plans an ordered list of tasks, one per manifest row.
// The Runner executes tasks on a bounded worker pool, funnels exclusive tasks
// through the accelerator gate, and writes rows in planned order regardless
// of completion order. A failed task still yields a row with status=failed;
// the stage fails as a whole only when the failure rate exceeds the
// configured threshold.
package stage

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"

	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/dataset"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/staging"
)

// RunContext carries everything a stage body reads.
type RunContext struct {
	Config       *config.Config
	Capabilities *capability.Set
	Samples      dataset.Source
	Layout       pipeline.Layout
	// Upstream holds the manifests of every stage that already published in
	// this run or was loaded from disk.
	Upstream map[pipeline.StageID]*manifest.Manifest
	Logger   *slog.Logger
}

// Manifest returns an upstream manifest or an error naming the missing stage.
func (rc *RunContext) Manifest(id pipeline.StageID) (*manifest.Manifest, error) {
	m, ok := rc.Upstream[id]
	if !ok || m == nil {
		return nil, fmt.Errorf("upstream manifest %s not available", id)
	}
	return m, nil
}

// Task produces one manifest row. Run never fails; capability errors are
// recorded in the returned row.
type Task struct {
	Key       string
	Exclusive bool
	Run       func(ctx context.Context, out *Output) manifest.Row
}

// Definition is one stage body.
type Definition interface {
	Stage() pipeline.StageID
	// Plan returns tasks in canonical order. It must not write anything.
	Plan(ctx context.Context, rc *RunContext) ([]Task, error)
}

// Artifacts is implemented by stages that write per-item files under
// outputs/<stage>.
type Artifacts interface {
	WritesArtifacts() bool
}

// Finalizer is implemented by stages that export derived files after their
// manifest is published.
type Finalizer interface {
	Finalize(ctx context.Context, rc *RunContext, m *manifest.Manifest) error
}

// DefinitionFor returns the body of a manifest-producing stage.
func DefinitionFor(id pipeline.StageID) (Definition, error) {
	switch id {
	case pipeline.StageIngest:
		return ingest{}, nil
	case pipeline.StageAlign:
		return align{}, nil
	case pipeline.StageDegrade:
		return degrade{}, nil
	case pipeline.StageRestoreA, pipeline.StageRestoreB:
		return restore{id: id}, nil
	case pipeline.StageScore:
		return score{}, nil
	case pipeline.StageFigures:
		return figures{}, nil
	default:
		return nil, fmt.Errorf("stage %s has no runner body", id)
	}
}

// Expected returns the keys a stage must publish given its upstream
// manifests.
func Expected(ctx context.Context, rc *RunContext, def Definition) ([]string, error) {
	tasks, err := def.Plan(ctx, rc)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(tasks))
	for i, task := range tasks {
		keys[i] = task.Key
	}
	return keys, nil
}

// Output maps item-relative artifact names to where they are written during
// the run and where they are recorded in the manifest.
type Output struct {
	dir *staging.Dir
}

// Paths returns the scratch path to write and the published path to record.
// The scratch parent directory is created.
func (o *Output) Paths(rel ...string) (write, record string, err error) {
	if o == nil || o.dir == nil {
		return "", "", fmt.Errorf("stage has no output directory")
	}
	name := filepath.Join(rel...)
	write = o.dir.Path(name)
	if err := os.MkdirAll(filepath.Dir(write), 0o755); err != nil {
		return "", "", err
	}
	return write, o.dir.Final(name), nil
}

// ItemSeed derives a per-item seed from the run seed and the item's
// identity, independent of scheduling.
func ItemSeed(seed int64, parts ...string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return h.Sum64()
}

func upstreamFailed(stage pipeline.StageID) string {
	return fmt.Sprintf("upstream %s item failed", stage)
}
