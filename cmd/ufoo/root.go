package main

import (
	"fmt"

	"ufoo/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root ufoo command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ufoo",
		Short:         "Project-local event bus for coding agents",
		Long:          "ufoo coordinates agents working on the same project through a\nfile-backed event bus, a presence daemon and scheduled prompts.",
		Version:       fmt.Sprintf("ufoo %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newBusCmd(),
		newDaemonCmd(),
		newCronCmd(),
		newDashCmd(),
	)

	return cmd
}
