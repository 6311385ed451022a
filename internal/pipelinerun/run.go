// Package pipelinerun assembles the process-level runtime for one
// `restorebench run` invocation: signal handling, run id, per-run log file,
// capability binding, preflight, ledger, metrics, and the orchestrator.
package pipelinerun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"restorebench/internal/blob"
	"restorebench/internal/capability"
	"restorebench/internal/config"
	"restorebench/internal/ledger"
	"restorebench/internal/logging"
	"restorebench/internal/orchestrator"
	"restorebench/internal/pipeline"
	"restorebench/internal/preflight"
	"restorebench/internal/provenance"
	"restorebench/internal/telemetry"
)

// Options configures one run.
type Options struct {
	Selection     pipeline.Selection
	LogLevel      string
	Development   bool
	SkipPreflight bool
	// Console receives human-facing log output. Defaults to stderr.
	Console io.Writer
	// Capabilities overrides the set bound from configuration.
	Capabilities *capability.Set
	// Environment overrides the captured environment descriptor.
	Environment func() provenance.Environment
}

// Result describes a finished invocation.
type Result struct {
	RunID   string
	LogPath string
	Report  *orchestrator.Report
}

// Run executes the selected stages and returns once the run reached a
// terminal state or was interrupted by SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	runID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("restorebench-%s.log", runID))
	result := &Result{RunID: runID, LogPath: logPath}

	logger, closeLog, err := newRunLogger(cfg, opts, logPath)
	if err != nil {
		return result, fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update restorebench.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "restorebench-*.log", Exclude: []string{logPath}},
	)
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	backend, err := blob.Open(ctx, cfg)
	if err != nil {
		return result, err
	}

	if !opts.SkipPreflight {
		checks := preflight.RunAll(ctx, cfg, backend)
		for _, check := range preflight.Failures(checks) {
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
				logging.String(logging.FieldImpact, "run will not start"),
				logging.String(logging.FieldErrorHint, "run restorebench doctor for the full report"),
			)
		}
		if err := preflight.Error(checks); err != nil {
			return result, err
		}
	}

	caps := opts.Capabilities
	if caps == nil {
		caps, err = capability.FromConfig(cfg)
		if err != nil {
			return result, err
		}
	}

	runs, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		logging.WarnWithContext(logger, "run ledger unavailable", "ledger_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not appear in restorebench status"),
			logging.String(logging.FieldErrorHint, "delete ledger.db if its schema is outdated"),
		)
		runs = nil
	} else {
		defer runs.Close()
	}

	metrics := telemetry.New()
	orch, err := orchestrator.New(orchestrator.Deps{
		Config:       cfg,
		Capabilities: caps,
		Mirror:       blob.NewMirror(backend, cfg.Paths.ResultsDir),
		Ledger:       runs,
		Metrics:      metrics,
		Logger:       logger,
		Environment:  opts.Environment,
	})
	if err != nil {
		return result, err
	}

	report, runErr := orch.Run(ctx, runID, opts.Selection)
	result.Report = report

	if err := metrics.WriteTextfile(cfg.MetricsPath()); err != nil {
		logging.WarnWithContext(logger, "failed to write metrics textfile", "metrics_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run metrics not exported"),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
		)
	}
	return result, runErr
}

// newRunLogger tees console output with a JSON copy in the per-run log file.
func newRunLogger(cfg *config.Config, opts Options, logPath string) (*slog.Logger, func(), error) {
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleHandler, err := logging.NewHandler(console, cfg.Logging.Format, level, opts.Development)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}
	fileHandler, err := logging.NewHandler(file, "json", "debug", opts.Development)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	logger := logging.TeeLogger(slog.New(consoleHandler), fileHandler)
	return logger, func() { _ = file.Close() }, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "restorebench.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
