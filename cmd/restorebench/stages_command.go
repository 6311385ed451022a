package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"restorebench/internal/pipeline"
)

func newStagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "stages",
		Short:       "List pipeline stages in execution order",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for i, id := range pipeline.Order() {
				upstream := make([]string, 0, len(id.Upstream()))
				for _, up := range id.Upstream() {
					upstream = append(upstream, string(up))
				}
				rows = append(rows, []string{strconv.Itoa(i + 1), string(id), id.Label(), strings.Join(upstream, ", ")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Stage", "Description", "Reads"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
}
