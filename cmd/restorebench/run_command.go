package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"restorebench/internal/orchestrator"
	"restorebench/internal/pipeline"
	"restorebench/internal/pipelinerun"
	"restorebench/internal/validate"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		stageFlag     string
		upToFlag      string
		logLevel      string
		skipPreflight bool
		development   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute pipeline stages",
		Long: "Execute the pipeline in its fixed stage order. With no flags every stage runs;\n" +
			"--stage runs one stage against published upstream manifests and --up-to runs\n" +
			"every stage through the named one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sel, err := pipeline.NewSelection(stageFlag, upToFlag)
			if err != nil {
				return err
			}
			result, runErr := pipelinerun.Run(cmd.Context(), cfg, pipelinerun.Options{
				Selection:     sel,
				LogLevel:      logLevel,
				Development:   development,
				SkipPreflight: skipPreflight,
				Console:       cmd.ErrOrStderr(),
			})
			if result != nil && result.Report != nil {
				printRunReport(cmd.OutOrStdout(), result)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Run a single stage ("+joinNames()+") or all")
	cmd.Flags().StringVar(&upToFlag, "up-to", "", "Run every stage through the named stage")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Do not check directories, dataset files, and binaries before running")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func printRunReport(out io.Writer, result *pipelinerun.Result) {
	report := result.Report
	rows := make([][]string, 0, len(report.Stages))
	for _, s := range report.Stages {
		rows = append(rows, []string{
			string(s.Stage),
			titleCase(string(s.Status)),
			strconv.Itoa(s.Rows),
			strconv.Itoa(s.Failed),
			shortHash(s.Hash),
			s.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Rows", "Failed", "Hash", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight},
	))
	fmt.Fprintf(out, "Run %s: %s\n", result.RunID, titleCase(string(report.State)))
	if report.State == orchestrator.StateComplete && report.RunHash != "" {
		fmt.Fprintf(out, "Run hash: %s\n", report.RunHash)
	}
	if report.State == orchestrator.StateAborted {
		if report.FailedStage != "" {
			fmt.Fprintf(out, "Failed stage: %s\n", report.FailedStage)
		}
		if failed, ok := report.Stage(report.FailedStage); ok && failed.Validation != nil && !failed.Validation.OK() {
			printDiffs(out, *failed.Validation)
		}
	}
	fmt.Fprintf(out, "Log: %s\n", result.LogPath)
}

func printDiffs(out io.Writer, result validate.Result) {
	if result.CountMismatch {
		fmt.Fprintf(out, "Row count: expected %d, found %d\n", result.ExpectedRows, result.ActualRows)
	}
	for _, d := range result.Diffs {
		fmt.Fprintf(out, "  %s\n", d.String())
	}
}

func joinNames() string {
	return strings.Join(pipeline.Names(), "|")
}

func shortHash(hash string) string {
	const keep = len("sha256:") + 12
	if len(hash) <= keep {
		return hash
	}
	return hash[:keep]
}
