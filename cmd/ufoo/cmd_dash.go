package main

import (
	"fmt"
	"time"

	"ufoo/pkg/bus"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// newDashCmd creates the "ufoo dash" subcommand.
func newDashCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Launch interactive dashboard",
		Long:  "Opens a live view of active subscribers, unread counts and daemon state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if !ws.bus.Initialized() {
				return remediate(fmt.Errorf("%s: %w", ws.bus.Layout().Root, bus.ErrNotInitialized))
			}
			model := newDashModel(ws.bus, ws.manager(), interval)
			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
