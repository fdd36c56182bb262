package main

import (
	"fmt"
	"os"

	"ufoo/pkg/bus"
	"ufoo/pkg/config"
	"ufoo/pkg/daemon"

	"github.com/spf13/cobra"
)

// workspace bundles the resolved config and the bus it points at.
type workspace struct {
	cfg config.Config
	bus *bus.Bus
}

// openWorkspace resolves the project root from the working directory and
// loads its config. A malformed config file is reported as a warning.
func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working dir: %w", err)
	}
	root := config.FindProjectRoot(cwd)
	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	b := bus.New(cfg.BusPath(),
		bus.WithAgentPattern(cfg.AgentPattern),
		bus.WithProjectRoot(root),
		bus.WithBusID(cfg.BusID),
	)
	return &workspace{cfg: cfg, bus: b}, nil
}

// manager returns the daemon manager for this bus.
func (w *workspace) manager() *daemon.Manager {
	return daemon.NewManager(w.bus.Layout(), bus.OSInspector{}, w.cfg.DaemonPattern)
}

// remediate adds the fix to errors a user can resolve by running a command.
func remediate(err error) error {
	if bus.IsNotInitialized(err) {
		return fmt.Errorf("%w (run: ufoo init)", err)
	}
	return err
}
