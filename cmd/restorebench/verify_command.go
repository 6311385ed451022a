package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/provenance"
	"restorebench/internal/services"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the results tree matches run_manifest.json and the current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			configHash, err := cfg.Hash()
			if err != nil {
				return err
			}
			layout := pipeline.NewLayout(cfg.Paths.ResultsDir)
			report, err := provenance.Verify(layout.RunManifestPath(), manifest.NewStore(layout.ManifestDir()), configHash)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(report.Stages))
			for _, id := range pipeline.ManifestStages() {
				rec, ok := report.Stages[string(id)]
				if !ok {
					rows = append(rows, []string{string(id), "-", "-", "-"})
					continue
				}
				rows = append(rows, []string{string(id), strconv.Itoa(rec.RowCount), strconv.Itoa(rec.FailureCount), shortHash(rec.ManifestHash)})
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Rows", "Failed", "Hash"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			fmt.Fprintf(out, "Run hash: %s\n", report.RunHash)
			if report.OK() {
				fmt.Fprintln(out, "Results match run manifest")
				return nil
			}
			for _, m := range report.Mismatches {
				fmt.Fprintf(out, "MISMATCH %s: %s\n", m.Stage, m.Detail)
			}
			return services.Wrap(services.ErrManifestIntegrity, "verify", "compare",
				fmt.Sprintf("%d mismatch(es) between results and run manifest", len(report.Mismatches)), nil)
		},
	}
}
