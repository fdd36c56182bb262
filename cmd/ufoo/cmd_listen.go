package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"ufoo/pkg/bus"
	"ufoo/pkg/daemon"

	"github.com/spf13/cobra"
)

const defaultAlertInterval = 2 * time.Second

// interruptible returns a context cancelled by SIGINT/SIGTERM or by the
// command's own context.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func formatListenLine(ev bus.Event) string {
	ts := ev.Time()
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("[%s] %s %s", ts.Local().Format("15:04:05"), ev.Publisher, ev.Message())
}

func newListenCmd() *cobra.Command {
	var (
		fromBeginning bool
		reset         bool
		autoJoin      bool
		interval      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen [subscriber]",
		Short: "Print new messages as they arrive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			id, err := subscriberArg(args)
			if err != nil {
				if !autoJoin {
					return err
				}
				res, joinErr := ws.bus.Join(bus.JoinRequest{
					AgentType: identityFromEnv().AgentType,
					PID:       agentPID(-1, ws.cfg.AgentPattern),
					TTY:       currentTTY(),
				})
				if joinErr != nil {
					return remediate(joinErr)
				}
				id = res.SubscriberID
				fmt.Fprintf(out, "[listen] Auto-joined as: %s\n", id)
			}

			if reset {
				fmt.Fprintln(out, "[listen] Resetting queue...")
				if _, err := ws.bus.Ack(id); err != nil {
					return remediate(err)
				}
			}

			if fromBeginning {
				pending, err := ws.bus.Check(id)
				if err != nil {
					return remediate(err)
				}
				if len(pending) > 0 {
					fmt.Fprintln(out, "[listen] Existing messages:")
					fmt.Fprintln(out, "---")
					for _, ev := range pending {
						fmt.Fprintln(out, formatListenLine(ev))
					}
					fmt.Fprintln(out, "---")
				}
			}

			if interval <= 0 {
				interval = ws.cfg.ListenInterval()
			}
			ring := isTerminal(out)

			ctx, stop := interruptible(cmd)
			defer stop()

			fmt.Fprintln(out, "[listen] Listening for new messages... (Ctrl+C to stop)")
			err = ws.bus.Watch(ctx, id, interval, func(added []bus.Event, _ int) {
				for _, ev := range added {
					if ring {
						fmt.Fprint(out, bell)
					}
					fmt.Fprintln(out, formatListenLine(ev))
				}
			})
			return remediate(err)
		},
	}
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "print messages already pending before listening")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the queue before listening")
	cmd.Flags().BoolVar(&autoJoin, "auto-join", false, "join with a generated session when none is set")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	return cmd
}

// alertPIDPath returns the pid file of the alert watcher for id.
func alertPIDPath(layout bus.Layout, id string) string {
	return filepath.Join(layout.PidsDir(), "alert-"+bus.SubscriberToSafeName(id)+".pid")
}

func alertLogPath(layout bus.Layout, id string) string {
	return filepath.Join(layout.LogsDir(), "alert-"+bus.SubscriberToSafeName(id)+".log")
}

// alertOptions controls how new messages are announced.
type alertOptions struct {
	bell  bool
	title bool
}

// alertNotifier returns the watch callback that rings and retitles the
// terminal. Escapes are only written when out is a terminal.
func alertNotifier(out io.Writer, id string, opts alertOptions, tty bool, now func() time.Time) bus.WatchFunc {
	return func(added []bus.Event, total int) {
		if tty && opts.bell {
			fmt.Fprint(out, bell)
		}
		if tty && opts.title {
			setTitle(out, fmt.Sprintf("[%d] %s", total, id))
		}
		fmt.Fprintf(out, "[alert] %s +%d new message(s)\n", now().Format("15:04:05"), len(added))
	}
}

func newAlertCmd() *cobra.Command {
	var (
		interval   time.Duration
		background bool
		stopIt     bool
		noBell     bool
		noTitle    bool
	)
	cmd := &cobra.Command{
		Use:   "alert [subscriber]",
		Short: "Ring the terminal bell when messages arrive",
		Long: "Watches a subscriber's queue and announces new messages with a bell and\n" +
			"a window title showing the pending count. --daemon runs the watcher\n" +
			"detached; --stop terminates it.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := subscriberArg(args)
			if err != nil {
				return err
			}
			if err := bus.ValidateSubscriberID(id); err != nil {
				return err
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			layout := ws.bus.Layout()
			pidPath := alertPIDPath(layout, id)
			matcher := bus.NewProcessMatcher(bus.OSInspector{}, daemonPattern(ws))
			out := cmd.OutOrStdout()

			if stopIt {
				pid, _ := daemon.ReadPIDFile(pidPath)
				signaled, err := daemon.StopPID(pidPath, matcher)
				if err != nil {
					return err
				}
				if signaled {
					fmt.Fprintf(out, "[alert] Stopped %s (pid=%d)\n", id, pid)
				} else {
					fmt.Fprintf(out, "[alert] Not running for %s\n", id)
				}
				return nil
			}

			if !ws.bus.Initialized() {
				return remediate(fmt.Errorf("%s: %w", layout.Root, bus.ErrNotInitialized))
			}

			status, pid, err := daemon.PIDStatus(pidPath, matcher)
			if err != nil {
				return err
			}
			if status == daemon.StatusRunning && pid != os.Getpid() {
				fmt.Fprintf(out, "[alert] Already running for %s (pid=%d)\n", id, pid)
				return nil
			}

			if interval <= 0 {
				interval = defaultAlertInterval
			}

			if background {
				childArgs := []string{"bus", "alert", id, "--interval", interval.String()}
				if noBell {
					childArgs = append(childArgs, "--no-bell")
				}
				if noTitle {
					childArgs = append(childArgs, "--no-title")
				}
				logPath := alertLogPath(layout, id)
				pid, err := spawner.Spawn(childArgs, logPath)
				if err != nil {
					return fmt.Errorf("start alert: %w", err)
				}
				if err := daemon.WritePIDFile(pidPath, pid); err != nil {
					return err
				}
				fmt.Fprintf(out, "[alert] Started for %s (pid=%d, log=%s)\n", id, pid, filepath.Base(logPath))
				return nil
			}

			if err := daemon.WritePIDFile(pidPath, os.Getpid()); err != nil {
				return err
			}
			defer func() { _ = daemon.RemovePIDFile(pidPath) }()

			ctx, stop := interruptible(cmd)
			defer stop()

			fmt.Fprintf(out, "[alert] Watching %s (interval=%s)\n", id, strconv.FormatFloat(interval.Seconds(), 'f', -1, 64)+"s")
			notify := alertNotifier(out, id, alertOptions{bell: !noBell, title: !noTitle}, isTerminal(out), time.Now)
			return remediate(ws.bus.Watch(ctx, id, interval, notify))
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultAlertInterval, "poll interval")
	cmd.Flags().BoolVar(&background, "daemon", false, "run the watcher detached")
	cmd.Flags().BoolVar(&stopIt, "stop", false, "stop a detached watcher")
	cmd.Flags().BoolVar(&noBell, "no-bell", false, "do not ring the bell")
	cmd.Flags().BoolVar(&noTitle, "no-title", false, "do not change the window title")
	return cmd
}

func daemonPattern(ws *workspace) string {
	if ws.cfg.DaemonPattern != "" {
		return ws.cfg.DaemonPattern
	}
	return daemon.DefaultProcessPattern
}
