package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"restorebench/internal/ledger"
	"restorebench/internal/pipeline"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent runs and the stages of the latest one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			store, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					titleCase(string(run.Status)),
					run.StartedAt.Local().Format(time.DateTime),
					runDuration(run),
					shortHash(run.RunHash),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Run", "State", "Started", "Duration", "Run Hash"}, rows, nil))

			latest := runs[0]
			stages, err := store.StagesForRun(cmd.Context(), latest.ID)
			if err != nil {
				return err
			}
			stageRows := make([][]string, 0, len(stages))
			for _, s := range stages {
				label := s.Stage
				if id, err := pipeline.Parse(s.Stage); err == nil {
					label = id.Label()
				}
				stageRows = append(stageRows, []string{
					s.Stage,
					label,
					titleCase(string(s.Status)),
					strconv.Itoa(s.RowCount),
					strconv.Itoa(s.FailureCount),
					s.Duration.String(),
				})
			}
			fmt.Fprintf(out, "\nLatest run %s\n", latest.ID)
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Description", "Status", "Rows", "Failed", "Duration"},
				stageRows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			if latest.ErrorMessage != "" {
				fmt.Fprintf(out, "Error: %s\n", latest.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to list (0 for all)")
	return cmd
}

func runDuration(run ledger.Run) string {
	if run.FinishedAt == nil {
		return "running"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}
