package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionHeaderStyle = lipgloss.NewStyle().Bold(true)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionHeaderStyle.Render("loomwork"))
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit:  %s\nbuilt:   %s\n", version, commit, date)
			return nil
		},
	}
}
