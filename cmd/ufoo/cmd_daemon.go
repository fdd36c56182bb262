package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"ufoo/pkg/bus"
	"ufoo/pkg/daemon"
	"ufoo/pkg/eventlog"

	"github.com/spf13/cobra"
)

// spawner starts detached copies of this binary (daemon and alert
// watchers). Tests may override it.
var spawner daemon.Spawner = daemon.ExecSpawner{} //nolint:gochecknoglobals // mutable for test injection

// newDaemonCmd creates the "ufoo daemon" command group.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the presence and scheduling daemon",
		Long: "The daemon keeps presence data fresh, runs scheduled prompts and\n" +
			"mirrors the event log into the history index. It is optional: every\n" +
			"bus command works without it.",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon (in the background unless --foreground)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if !ws.bus.Initialized() {
				return remediate(fmt.Errorf("%s: %w", ws.bus.Layout().Root, bus.ErrNotInitialized))
			}
			if foreground {
				return runDaemonForeground(cmd, ws)
			}

			mgr := ws.manager()
			mgr.Spawner = spawner
			res, err := mgr.Start([]string{"daemon", "start", "--foreground"})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.AlreadyRunning {
				fmt.Fprintf(out, "daemon already running (PID %d)\n", res.PID)
				return nil
			}
			fmt.Fprintf(out, "daemon started (PID %d)\n", res.PID)
			if !res.SocketReady {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: control socket not ready yet, see %s\n",
					filepath.Join(ws.bus.Layout().LogsDir(), "daemon.log"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in this process until interrupted")
	return cmd
}

// runDaemonForeground runs the tick loop in this process until SIGINT or
// SIGTERM. The history index is optional; the daemon runs without it when
// the database cannot be opened.
func runDaemonForeground(cmd *cobra.Command, ws *workspace) error {
	layout := ws.bus.Layout()
	running, err := ws.manager().Prepare()
	if err != nil {
		return err
	}
	if running > 0 && running != os.Getpid() {
		fmt.Fprintf(cmd.OutOrStdout(), "daemon already running (PID %d)\n", running)
		return nil
	}

	ctx, cleanup := daemon.SetupSignalHandler(cmd.Context(), layout.DaemonPIDFile())
	defer cleanup()

	logger := log.New(cmd.ErrOrStderr(), "[daemon] ", log.LstdFlags)

	var history daemon.HistorySyncer
	idx, err := eventlog.Open(ctx, layout.HistoryDB())
	if err != nil {
		logger.Printf("history index disabled: %v", err)
	} else {
		defer idx.Close()
		history = idx
	}

	d := daemon.New(ws.bus, history, daemon.Config{
		Interval: ws.cfg.DaemonInterval(),
		Logger:   logger,
	})
	return d.Run(ctx)
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			mgr := ws.manager()
			report, err := mgr.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch report.Status {
			case daemon.StatusStopped:
				fmt.Fprintln(out, "daemon is not running")
				return nil
			case daemon.StatusStale:
				fmt.Fprintln(out, "removing stale PID file (process already dead)")
				return daemon.RemovePIDFile(ws.bus.Layout().DaemonPIDFile())
			case daemon.StatusRunning:
				fmt.Fprintf(out, "sending SIGTERM to daemon (PID %d)\n", report.PID)
				if _, err := mgr.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(out, "stop signal sent")
			}
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running and its last tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			report, err := ws.manager().Status()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printDaemonReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printDaemonReport(w io.Writer, r daemon.Report) {
	switch r.Status {
	case daemon.StatusRunning:
		fmt.Fprintf(w, "daemon: running (PID %d)\n", r.PID)
	case daemon.StatusStale:
		fmt.Fprintf(w, "daemon: stale PID file (PID %d not running)\n", r.PID)
	default:
		fmt.Fprintln(w, "daemon: stopped")
	}
	if r.Last == nil {
		return
	}
	last := r.Last
	fmt.Fprintf(w, "  last tick:  %s (#%d, every %s)\n", orDash(last.LastTickAt), last.Ticks, last.Interval)
	fmt.Fprintf(w, "  cron tasks: %d (%d runs last tick)\n", last.CronTasks, last.CronRuns)
	if len(last.Deactivated) > 0 {
		fmt.Fprintf(w, "  deactivated: %v\n", last.Deactivated)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
