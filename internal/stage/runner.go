package stage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"restorebench/internal/config"
	"restorebench/internal/logging"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
	"restorebench/internal/staging"
)

// Observer receives per-item and per-stage measurements.
type Observer interface {
	ObserveItem(stage pipeline.StageID, status string)
	ObserveStage(stage pipeline.StageID, duration time.Duration)
}

// Outcome is the result of one stage execution.
type Outcome struct {
	Manifest *manifest.Manifest
	Expected []string
	Duration time.Duration
}

// Runner executes stage definitions.
type Runner struct {
	store     *manifest.Store
	workers   int
	threshold float64
	gate      *semaphore.Weighted
	logger    *slog.Logger
	observer  Observer
}

// NewRunner builds a runner from the execution settings. The accelerator
// gate is shared by every stage the runner executes.
func NewRunner(store *manifest.Store, exec config.Execution, logger *slog.Logger, observer Observer) *Runner {
	workers := max(exec.Workers, 1)
	slots := max(exec.AcceleratorSlots, 1)
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:     store,
		workers:   workers,
		threshold: exec.FailureThreshold,
		gate:      semaphore.NewWeighted(int64(slots)),
		logger:    logger,
		observer:  observer,
	}
}

// Execute plans, runs, and publishes one stage. On cancellation nothing is
// published. When the failure rate exceeds the threshold the manifest is
// still published for inspection and a *services.StageError is returned.
func (r *Runner) Execute(ctx context.Context, rc *RunContext, def Definition) (Outcome, error) {
	id := def.Stage()
	ctx = services.WithStage(ctx, string(id))
	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()

	tasks, err := def.Plan(ctx, rc)
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrStageExecution, string(id), "plan", "Stage inputs could not be planned", err)
	}
	expected := make([]string, len(tasks))
	for i, task := range tasks {
		expected[i] = task.Key
	}

	var out *Output
	var dir *staging.Dir
	if a, ok := def.(Artifacts); ok && a.WritesArtifacts() {
		dir, err = staging.New(rc.Layout.OutputDir(id))
		if err != nil {
			return Outcome{}, services.Wrap(services.ErrStorage, string(id), "stage outputs", "Failed to create staging directory", err)
		}
		out = &Output{dir: dir}
	}
	discard := func() {
		if dir == nil {
			return
		}
		if err := dir.Discard(); err != nil {
			logging.WarnWithContext(logger, "failed to discard staging directory", "staging_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch files left in results directory"),
				logging.String(logging.FieldErrorHint, "rerun the stage or run restorebench clean"),
			)
		}
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("items", len(tasks)),
	)

	rows, err := r.runTasks(ctx, tasks, out, id, logger)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		discard()
		return Outcome{}, err
	}

	m, _, err := manifest.Build(id, rows)
	if err != nil {
		discard()
		return Outcome{}, err
	}
	if dir != nil {
		if err := dir.Commit(); err != nil {
			discard()
			return Outcome{}, services.Wrap(services.ErrStorage, string(id), "publish outputs", "Failed to publish stage outputs", err)
		}
	}
	m, err = r.store.Write(id, rows)
	if err != nil {
		return Outcome{}, err
	}
	if f, ok := def.(Finalizer); ok {
		if err := f.Finalize(ctx, rc, m); err != nil {
			return Outcome{}, services.Wrap(services.ErrStorage, string(id), "finalize", "Failed to export stage tables", err)
		}
	}

	outcome := Outcome{Manifest: m, Expected: expected, Duration: time.Since(started)}
	if r.observer != nil {
		r.observer.ObserveStage(id, outcome.Duration)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("rows", m.Len()),
		logging.Int("failed", m.FailureCount),
		logging.String("content_hash", m.ContentHash),
		logging.Duration("duration", outcome.Duration),
	)

	if stageErr := r.checkThreshold(id, m); stageErr != nil {
		return outcome, stageErr
	}
	return outcome, nil
}

// runTasks fills rows in planned order. Task failures live in the rows; the
// only error returned is a failure to acquire the accelerator gate, which
// happens when ctx is done.
func (r *Runner) runTasks(ctx context.Context, tasks []Task, out *Output, id pipeline.StageID, logger *slog.Logger) ([]manifest.Row, error) {
	rows := make([]manifest.Row, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if task.Exclusive {
				if err := r.gate.Acquire(ctx, 1); err != nil {
					return err
				}
				defer r.gate.Release(1)
			}
			itemCtx := services.WithItemKey(ctx, task.Key)
			row := task.Run(itemCtx, out)
			rows[i] = row
			r.observe(itemCtx, id, row, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Runner) observe(ctx context.Context, id pipeline.StageID, row manifest.Row, logger *slog.Logger) {
	status := row.String("status")
	if status == "" {
		status = manifest.StatusOK
	}
	if r.observer != nil {
		r.observer.ObserveItem(id, status)
	}
	if status == manifest.StatusFailed && ctx.Err() == nil {
		logging.WarnWithContext(logging.WithContext(ctx, logger), "item failed", "item_failure",
			logging.String("reason", row.String("reason")),
			logging.String(logging.FieldImpact, "row recorded as failed"),
			logging.String(logging.FieldErrorHint, "inspect the capability output for this item"),
		)
	}
}

func (r *Runner) checkThreshold(id pipeline.StageID, m *manifest.Manifest) error {
	total := m.Len()
	if total == 0 || m.FailureCount == 0 {
		return nil
	}
	rate := float64(m.FailureCount) / float64(total)
	if rate <= r.threshold {
		return nil
	}
	return &services.StageError{Stage: string(id), Failed: m.FailureCount, Total: total, Threshold: r.threshold}
}

// Reason renders an item error as a single-line manifest reason.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		msg = "timeout: " + msg
	}
	if msg == "" {
		msg = "failed"
	}
	return msg
}
