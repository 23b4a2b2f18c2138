// Command loomwork is the CLI front-end for the workflow orchestrator: it
// parses and validates a workflow document, loads a plugin host, drives the
// Executor to completion, and reports the result (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitFunc is indirected so tests can observe the exit code a subcommand
// chooses without actually terminating the test binary.
var exitFunc = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loomwork",
		Short:         "loomwork runs local, offline plugin-driven workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPluginsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
