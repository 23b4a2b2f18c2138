package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/loomwork/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Parse and validate a workflow document without loading the plugin host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitFunc(runValidate(cmd, args[0]))
			return nil
		},
	}
	return cmd
}

// runValidate parses and validates path with resolver=nil, so plugin name
// resolution (spec.md §4.2 rule 6) is skipped — validate never touches the
// plugin host (spec.md §6).
func runValidate(cmd *cobra.Command, path string) int {
	wf, err := config.ParseWorkflow(path, nil)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return 2
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow %q is valid: %d step(s)\n", path, len(wf.Steps))
	return 0
}
