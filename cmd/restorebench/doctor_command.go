package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"restorebench/internal/blob"
	"restorebench/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, dataset files, capability binaries, and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			backend, err := blob.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, backend)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "OK"
				if !r.Passed {
					status = "FAIL"
				}
				rows = append(rows, []string{r.Name, status, r.Detail})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", cfg.Source())
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			return preflight.Error(results)
		},
	}
}
