package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"restorebench/internal/orchestrator"
	"restorebench/internal/pipeline"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove generated outputs, manifests, and tables",
		Long:  "Remove everything a run generates under results_dir. With --all the log directory\n(run logs, ledger, metrics) is removed too. Refuses while a run holds the lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			release, err := orchestrator.Lock(cfg)
			if err != nil {
				return err
			}
			defer release()

			targets := pipeline.NewLayout(cfg.Paths.ResultsDir).Generated()
			if all {
				targets = append(targets, cfg.Paths.LogDir)
			}
			out := cmd.OutOrStdout()
			removed := 0
			for _, target := range targets {
				if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
					continue
				}
				if err := os.RemoveAll(target); err != nil {
					return fmt.Errorf("remove %s: %w", target, err)
				}
				fmt.Fprintf(out, "Removed %s\n", target)
				removed++
			}
			if removed == 0 {
				fmt.Fprintln(out, "Nothing to clean")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also remove the log directory")
	return cmd
}
