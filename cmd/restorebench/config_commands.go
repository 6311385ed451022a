package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"restorebench/internal/config"
	"restorebench/internal/matrix"
	"restorebench/internal/pipeline"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = "restorebench.toml"
			}
			expanded, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			target = expanded

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the capability commands and dataset paths, then run `restorebench doctor`.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file (default ./restorebench.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", cfg.Source())
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the experiment matrix and print the config hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			hash, err := cfg.Hash()
			if err != nil {
				return err
			}
			items := matrix.Expand(cfg)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path:  %s\n", cfg.Source())
			fmt.Fprintf(out, "Config hash:  %s\n", hash)
			fmt.Fprintf(out, "Project:      %s\n", cfg.ProjectName)
			fmt.Fprintf(out, "Seed:         %d\n", cfg.SeedValue())
			fmt.Fprintf(out, "Results:      %s\n", cfg.Paths.ResultsDir)
			fmt.Fprintf(out, "Storage:      %s\n", storageLabel(cfg))

			rows := make([][]string, 0, len(cfg.Methods))
			for slot, method := range cfg.Methods {
				id, _ := pipeline.RestoreStage(slot)
				knob := "-"
				if method.Tunable() {
					knob = method.TuningKnob
				}
				rows = append(rows, []string{
					string(id),
					method.Name,
					knob,
					strconv.Itoa(len(matrix.Grid(method))),
					yesNo(method.Exclusive),
					method.Capability.Describe(),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Method", "Knob", "Settings", "Exclusive", "Capability"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))

			presets := make([]string, len(cfg.Degradations))
			for i, d := range cfg.Degradations {
				presets[i] = d.Name
			}
			fmt.Fprintf(out, "Presets:      %s\n", strings.Join(presets, ", "))
			fmt.Fprintf(out, "Metrics:      %s\n", strings.Join(cfg.Score.Metrics, ", "))
			fmt.Fprintf(out, "Matrix cells: %d (preset x method x tuning)\n", len(items))
			return nil
		},
	}
}

func storageLabel(cfg *config.Config) string {
	if cfg.Storage.Driver == "s3" {
		return "s3://" + cfg.Storage.Bucket + "/" + cfg.Storage.Prefix
	}
	return "fs"
}
