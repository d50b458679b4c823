package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
)

func newValidateCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check DAG definition files and print their task graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				def, err := dag.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}

				g := def.Graph()
				fmt.Fprintf(out, "%s: dag %q, %d tasks\n", path, def.ID, len(def.Tasks))
				fmt.Fprintf(out, "  roots: %s\n", strings.Join(g.Roots(), ", "))
				for _, id := range g.Tasks() {
					if down := g.Downstream(id); len(down) > 0 {
						fmt.Fprintf(out, "  %s -> %s\n", id, strings.Join(down, ", "))
					}
				}
				if cycle := g.Cycle(); cycle != nil {
					fmt.Fprintf(out, "  warning: cycle %s\n", strings.Join(cycle, " -> "))
				}
			}
			if failed > 0 {
				return wrapError(ExitConfigError, fmt.Sprintf("%d invalid definition(s)", failed), nil)
			}
			return nil
		},
	}
}
