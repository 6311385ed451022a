package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"restorebench/internal/blob"
	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/dataset"
	"restorebench/internal/fileutil"
	"restorebench/internal/ledger"
	"restorebench/internal/logging"
	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/provenance"
	"restorebench/internal/services"
	"restorebench/internal/stage"
	"restorebench/internal/staging"
	"restorebench/internal/telemetry"
	"restorebench/internal/validate"
)

// State is the lifecycle position of a run.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateAborted  State = "aborted"
	StateComplete State = "complete"
)

// Deps are the collaborators of an Orchestrator. Ledger, Metrics, Mirror,
// and Logger are optional.
type Deps struct {
	Config       *config.Config
	Capabilities *capability.Set
	Samples      dataset.Source
	Mirror       *blob.Mirror
	Ledger       *ledger.Store
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	// Environment overrides the captured environment descriptor.
	Environment func() provenance.Environment
}

// Orchestrator runs pipeline invocations against one results tree.
type Orchestrator struct {
	cfg      *config.Config
	caps     *capability.Set
	samples  dataset.Source
	layout   pipeline.Layout
	store    *manifest.Store
	mirror   *blob.Mirror
	ledger   *ledger.Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	env      func() provenance.Environment
	runner     *stage.Runner
	lockPath   string
	configHash string
}

// New validates deps and wires the stage runner.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "init", "Configuration is required", nil)
	}
	if deps.Capabilities == nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "init", "Capabilities are required", nil)
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "orchestrator")
	layout := pipeline.NewLayout(cfg.Paths.ResultsDir)
	samples := deps.Samples
	if samples == nil {
		samples = dataset.IndexFromConfig(cfg)
	}
	mirror := deps.Mirror
	if mirror == nil {
		mirror = blob.NewMirror(blob.NewFS(cfg.Paths.ResultsDir), cfg.Paths.ResultsDir)
	}
	env := deps.Environment
	if env == nil {
		descriptors := capability.Descriptors(cfg)
		env = func() provenance.Environment { return provenance.CaptureEnvironment(descriptors) }
	}
	configHash, err := cfg.Hash()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "hash config", "Configuration could not be hashed", err)
	}
	store := manifest.NewStore(layout.ManifestDir(), manifest.WithConfigHash(configHash))

	var observer stage.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	return &Orchestrator{
		cfg:      cfg,
		caps:     deps.Capabilities,
		samples:  samples,
		layout:   layout,
		store:    store,
		mirror:   mirror,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   logger,
		env:      env,
		runner:     stage.NewRunner(store, cfg.Execution, logger, observer),
		lockPath:   cfg.LockPath(),
		configHash: configHash,
	}, nil
}

// Store exposes the manifest store of the results tree.
func (o *Orchestrator) Store() *manifest.Store { return o.store }

// Layout exposes the results tree layout.
func (o *Orchestrator) Layout() pipeline.Layout { return o.layout }

// StageStatus is how a stage ended within a run.
type StageStatus = ledger.StageStatus

// StageReport summarizes one stage of a run.
type StageReport struct {
	Stage        pipeline.StageID
	Status       StageStatus
	Rows         int
	Failed       int
	Hash         string
	Duration     time.Duration
	Validation   *validate.Result
	Err          error
	UploadedKeys int
}

// Report is the outcome of Run.
type Report struct {
	RunID       string
	Selection   pipeline.Selection
	State       State
	Stages      []StageReport
	FailedStage pipeline.StageID
	RunHash     string
	Err         error
}

// Stage returns the report of one stage, if it was attempted.
func (r *Report) Stage(id pipeline.StageID) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == id {
			return s, true
		}
	}
	return StageReport{}, false
}

// Lock takes the run lock on the results tree without blocking. The returned
// release func must be called when done.
func Lock(cfg *config.Config) (func(), error) {
	if err := os.MkdirAll(cfg.Paths.ResultsDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "orchestrator", "lock", "Failed to create results directory", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "orchestrator", "lock", "Failed to acquire run lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrRunLocked, "orchestrator", "lock",
			fmt.Sprintf("Another run holds %s", cfg.LockPath()), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

// Run executes the selected stages. The returned error is nil only when the
// run reached StateComplete; the report is populated either way.
func (o *Orchestrator) Run(ctx context.Context, runID string, sel pipeline.Selection) (*Report, error) {
	report := &Report{RunID: runID, Selection: sel, State: StatePending}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)

	release, err := Lock(o.cfg)
	if err != nil {
		report.State = StateAborted
		report.Err = err
		return report, err
	}
	defer release()

	configHash := o.configHash
	if o.ledger != nil {
		if err := o.ledger.BeginRun(ctx, runID, o.cfg.ProjectName, configHash); err != nil {
			logging.WarnWithContext(logger, "failed to record run start", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history incomplete"),
				logging.String(logging.FieldErrorHint, "check log_dir permissions or delete ledger.db"),
			)
		}
	}

	report.State = StateRunning
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("selection", sel.String()),
		logging.String("config_hash", configHash),
	)

	cleanup := staging.CleanStale(ctx, o.layout.OutputsDir(), logger)
	if len(cleanup.Removed) > 0 {
		logger.Info("removed stale staging directories",
			logging.String(logging.FieldEventType, "staging_cleanup"),
			logging.Int("count", len(cleanup.Removed)),
		)
	}

	rc := &stage.RunContext{
		Config:       o.cfg,
		Capabilities: o.caps,
		Samples:      o.samples,
		Layout:       o.layout,
		Upstream:     map[pipeline.StageID]*manifest.Manifest{},
		Logger:       logger,
	}

	stages := sel.Stages()
	for i, id := range stages {
		if err := ctx.Err(); err != nil {
			o.skipRemaining(ctx, report, stages[i:])
			return o.abort(ctx, report, id, err)
		}
		if err := o.loadUpstream(ctx, rc, id); err != nil {
			o.record(ctx, report, StageReport{Stage: id, Status: ledger.StageFailed, Err: err})
			o.skipRemaining(ctx, report, stages[i+1:])
			return o.abort(ctx, report, id, err)
		}

		var sr StageReport
		if id == pipeline.StageAggregate {
			sr, err = o.aggregate(ctx, rc, configHash)
			if err == nil {
				report.RunHash = sr.Hash
			}
		} else {
			sr, err = o.runStage(ctx, rc, id)
		}
		o.record(ctx, report, sr)
		if err != nil {
			o.skipRemaining(ctx, report, stages[i+1:])
			return o.abort(ctx, report, id, err)
		}
	}

	report.State = StateComplete
	o.finish(ctx, report)
	logger.Info("run complete",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("stages", len(report.Stages)),
		logging.String("run_hash", report.RunHash),
	)
	return report, nil
}

// loadUpstream makes every upstream manifest of id available, reading from
// disk the ones this run did not produce.
func (o *Orchestrator) loadUpstream(ctx context.Context, rc *stage.RunContext, id pipeline.StageID) error {
	for _, up := range id.Upstream() {
		if err := o.loadPublished(ctx, rc, up); err != nil {
			return services.Wrap(services.ErrManifestIntegrity, string(id), "load upstream",
				fmt.Sprintf("Upstream manifest %s is unusable; run that stage first", up), err)
		}
	}
	return nil
}

// loadPublished reads a published manifest and checks it against the current
// configuration: the config hash in its header must match, and its keys must
// equal what its own upstream manifests plan under this configuration.
// Upstream manifests are loaded first, recursively.
func (o *Orchestrator) loadPublished(ctx context.Context, rc *stage.RunContext, id pipeline.StageID) error {
	if _, ok := rc.Upstream[id]; ok {
		return nil
	}
	m, err := o.store.Read(id)
	if err != nil {
		return err
	}
	if m.ConfigHash != o.configHash {
		recorded := m.ConfigHash
		if recorded == "" {
			recorded = "none"
		}
		return services.Wrap(services.ErrManifestIntegrity, string(id), "load manifest",
			fmt.Sprintf("Manifest was produced under config %s, current config is %s", recorded, o.configHash), nil)
	}
	for _, up := range id.Upstream() {
		if err := o.loadPublished(ctx, rc, up); err != nil {
			return err
		}
	}
	def, err := stage.DefinitionFor(id)
	if err != nil {
		return err
	}
	expected, err := stage.Expected(ctx, rc, def)
	if err != nil {
		return services.Wrap(services.ErrManifestIntegrity, string(id), "load manifest", "Expected keys could not be planned", err)
	}
	result, err := validate.Check(ctx, m, expected, o.mirror)
	o.observeDiffs(id, result)
	if err != nil {
		return err
	}
	rc.Upstream[id] = m
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, rc *stage.RunContext, id pipeline.StageID) (StageReport, error) {
	sr := StageReport{Stage: id, Status: ledger.StageFailed}
	def, err := stage.DefinitionFor(id)
	if err != nil {
		sr.Err = err
		return sr, services.Wrap(services.ErrConfiguration, string(id), "resolve stage", "Stage has no body", err)
	}

	outcome, execErr := o.runner.Execute(ctx, rc, def)
	sr.Duration = outcome.Duration
	if m := outcome.Manifest; m != nil {
		sr.Rows = m.Len()
		sr.Failed = m.FailureCount
		sr.Hash = m.ContentHash
	}
	if execErr != nil {
		sr.Err = execErr
		return sr, execErr
	}
	rc.Upstream[id] = outcome.Manifest

	uploaded, err := o.mirrorStage(ctx, outcome.Manifest)
	sr.UploadedKeys = uploaded
	if err != nil {
		sr.Err = err
		return sr, err
	}

	result, err := validate.Check(ctx, outcome.Manifest, outcome.Expected, o.mirror)
	sr.Validation = &result
	o.observeDiffs(id, result)
	if err != nil {
		sr.Err = err
		var verr *validate.Error
		if errors.As(err, &verr) {
			logging.ErrorWithContext(logging.WithContext(services.WithStage(ctx, string(id)), o.logger),
				"validation gate failed", "validation_failed",
				logging.Error(err),
				logging.Int("diffs", len(result.Diffs)),
				logging.String(logging.FieldImpact, "downstream stages will not run"),
				logging.String(logging.FieldErrorHint, "inspect the itemized diffs and rerun the stage"),
			)
		}
		return sr, err
	}
	sr.Status = ledger.StageCompleted
	return sr, nil
}

// mirrorStage uploads the ok artifacts under the results tree and then the
// manifest itself. Artifacts that are missing locally are left for the
// validator to report.
func (o *Orchestrator) mirrorStage(ctx context.Context, m *manifest.Manifest) (int, error) {
	if !o.mirror.Remote() {
		return 0, nil
	}
	schema, err := manifest.SchemaFor(m.Stage)
	if err != nil {
		return 0, err
	}
	uploaded := 0
	for _, row := range m.Rows {
		if row.Failed() {
			continue
		}
		for _, field := range schema.Fields {
			if !field.Artifact {
				continue
			}
			path := row.String(field.Name)
			if _, err := o.mirror.Key(path); err != nil || !fileutil.NonEmptyFile(path) {
				continue
			}
			if err := o.mirror.Upload(ctx, path); err != nil {
				return uploaded, err
			}
			uploaded++
		}
	}
	if err := o.mirror.Upload(ctx, o.store.Path(m.Stage)); err != nil {
		return uploaded, err
	}
	return uploaded + 1, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, rc *stage.RunContext, configHash string) (StageReport, error) {
	started := time.Now()
	sr := StageReport{Stage: pipeline.StageAggregate, Status: ledger.StageFailed}
	rm, err := provenance.Aggregate(o.cfg.ProjectName, configHash, o.env(), rc.Upstream)
	if err != nil {
		sr.Err = err
		return sr, err
	}
	path := o.layout.RunManifestPath()
	if err := provenance.Write(path, rm); err != nil {
		sr.Err = err
		return sr, err
	}
	if err := o.mirror.Upload(ctx, path); err != nil {
		sr.Err = err
		return sr, err
	}
	sr.Status = ledger.StageCompleted
	sr.Hash = rm.RunHash
	sr.Rows = len(rm.PerStage)
	sr.Duration = time.Since(started)
	if o.metrics != nil {
		o.metrics.ObserveStage(pipeline.StageAggregate, sr.Duration)
	}
	o.logger.Info("run manifest written",
		logging.String(logging.FieldEventType, "run_manifest_written"),
		logging.String("path", path),
		logging.String("run_hash", rm.RunHash),
	)
	return sr, nil
}

func (o *Orchestrator) observeDiffs(id pipeline.StageID, result validate.Result) {
	if o.metrics == nil {
		return
	}
	for _, kind := range []validate.DiffKind{validate.DiffMissing, validate.DiffExtra, validate.DiffDuplicate} {
		o.metrics.ObserveDiffs(id, string(kind), result.Count(kind))
	}
}

func (o *Orchestrator) record(ctx context.Context, report *Report, sr StageReport) {
	report.Stages = append(report.Stages, sr)
	if o.metrics != nil {
		o.metrics.ObserveOutcome(sr.Stage, string(sr.Status))
	}
	if o.ledger == nil {
		return
	}
	rec := ledger.StageRun{
		RunID:        report.RunID,
		Stage:        string(sr.Stage),
		Status:       sr.Status,
		RowCount:     sr.Rows,
		FailureCount: sr.Failed,
		ManifestHash: sr.Hash,
		Duration:     sr.Duration,
	}
	if sr.Err != nil {
		rec.ErrorMessage = sr.Err.Error()
	}
	// The ledger must still be written when the run was cancelled.
	if err := o.ledger.RecordStage(context.WithoutCancel(ctx), rec); err != nil {
		logging.WarnWithContext(o.logger, "failed to record stage", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history incomplete"),
			logging.String(logging.FieldErrorHint, "check log_dir permissions or delete ledger.db"),
		)
	}
}

func (o *Orchestrator) skipRemaining(ctx context.Context, report *Report, rest []pipeline.StageID) {
	for _, id := range rest {
		o.record(ctx, report, StageReport{Stage: id, Status: ledger.StageSkipped})
	}
}

func (o *Orchestrator) abort(ctx context.Context, report *Report, failed pipeline.StageID, err error) (*Report, error) {
	report.State = StateAborted
	report.FailedStage = failed
	report.Err = err
	o.finish(ctx, report)
	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "run aborted", "run_aborted",
		logging.String(logging.FieldStage, string(failed)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "remaining stages skipped; published manifests kept for inspection"),
		logging.String(logging.FieldErrorHint, hintFor(err)),
	)
	return report, err
}

func (o *Orchestrator) finish(ctx context.Context, report *Report) {
	if o.metrics != nil {
		o.metrics.ObserveRun(string(report.State), report.State == StateComplete)
	}
	if o.ledger == nil {
		return
	}
	status := ledger.RunComplete
	message := ""
	if report.State != StateComplete {
		status = ledger.RunAborted
		if report.Err != nil {
			message = report.Err.Error()
		}
	}
	if err := o.ledger.FinishRun(context.WithoutCancel(ctx), report.RunID, status, report.RunHash, message); err != nil {
		logging.WarnWithContext(o.logger, "failed to record run end", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history incomplete"),
			logging.String(logging.FieldErrorHint, "check log_dir permissions or delete ledger.db"),
		)
	}
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "run was interrupted; rerun to resume from the last published stage"
	case errors.Is(err, services.ErrConfiguration):
		return "fix the configuration and run restorebench config validate"
	case errors.Is(err, services.ErrManifestIntegrity):
		return "rerun the failing stage or its upstream stages"
	case errors.Is(err, services.ErrStageExecution):
		return "inspect failed rows in the stage manifest; raise execution.failure_threshold only if failures are expected"
	case errors.Is(err, services.ErrStorage):
		return "check results_dir and storage backend access"
	default:
		return "see the run log for details"
	}
}
