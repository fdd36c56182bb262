package main

import (
	"path/filepath"

	"ufoo/pkg/config"
	"ufoo/pkg/store"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "ufoo init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the project-local event bus",
		Long:  "Creates .ufoo/ in the project root and initializes the bus directory.\nRunning it again is a no-op.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if err := store.EnsureDir(filepath.Join(ws.cfg.ProjectRoot, config.Dir)); err != nil {
				return err
			}
			created, err := ws.bus.Init()
			if err != nil {
				return err
			}
			p := newPrinter(cmd)
			if !created {
				p.Info("Event bus already initialized at %s", ws.bus.Layout().Root)
				return nil
			}
			p.OK("Event bus initialized")
			return nil
		},
	}
}
