package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/loomwork/internal/pluginhost"
)

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin host",
	}
	cmd.AddCommand(newPluginsListCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <dir>",
		Short: "Load a plugins directory and print discovered plugin metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitFunc(runPluginsList(cmd, args[0]))
			return nil
		},
	}
	return cmd
}

func runPluginsList(cmd *cobra.Command, dir string) int {
	host, warnings, err := pluginhost.LoadFromDirectory(dir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to load plugins directory %q: %v\n", dir, err)
		return 3
	}
	defer host.Close()

	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Path, w.Message)
	}

	out := cmd.OutOrStdout()
	for _, info := range host.List() {
		fmt.Fprintf(out, "%-20s %-40s %-10s %s\n", info.Name, info.Path, info.Version, info.Description)
		if info.Capabilities != "" {
			fmt.Fprintf(out, "  capabilities: %s\n", info.Capabilities)
		}
	}
	return 0
}
