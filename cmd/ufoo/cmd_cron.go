package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"ufoo/pkg/daemon"
	"ufoo/pkg/store"

	"github.com/spf13/cobra"
)

// newCronCmd creates the "ufoo cron" command group. Scheduled prompts live
// in the daemon, so every subcommand goes through its control socket.
func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Schedule prompts to be sent to agents",
	}
	cmd.AddCommand(newCronStartCmd(), newCronListCmd(), newCronStopCmd())
	return cmd
}

// callCron sends a cron operation to the daemon and decodes its reply.
func callCron(cmd *cobra.Command, args map[string]any) (daemon.CronResult, error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return daemon.CronResult{}, err
	}
	sock := ws.bus.Layout().DaemonSocket()
	if !store.Exists(sock) {
		return daemon.CronResult{}, errors.New("daemon is not running (run: ufoo daemon start)")
	}
	resp, err := daemon.Call(cmd.Context(), sock, daemon.Request{
		Op:   daemon.ControlCron,
		Args: args,
	})
	if err != nil {
		return daemon.CronResult{}, err
	}
	var res daemon.CronResult
	if err := resp.Decode(&res); err != nil {
		return daemon.CronResult{}, err
	}
	return res, nil
}

func newCronStartCmd() *cobra.Command {
	var (
		every   string
		at      string
		targets []string
		prompt  string
	)
	cmd := &cobra.Command{
		Use:     "start [prompt...]",
		Aliases: []string{"add", "create"},
		Short:   "Schedule a recurring or one-time prompt",
		Long: "Schedules prompt for one or more targets. Use --every for a recurring\n" +
			"task (30s, 10m, 1h30m, or bare seconds) or --at for a one-time task\n" +
			"(\"2026-01-02 15:04\", RFC 3339 or Unix time).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				prompt = strings.Join(args, " ")
			}
			req := map[string]any{
				"operation": daemon.OpStart,
				"targets":   targets,
				"prompt":    prompt,
			}
			if every != "" {
				req["every"] = every
			}
			if at != "" {
				req["at"] = at
			}
			res, err := callCron(cmd, req)
			if err != nil {
				return err
			}
			if res.Task != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "cron task started: %s\n", res.Task.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&every, "every", "", "interval between runs")
	cmd.Flags().StringVar(&at, "at", "", "one-time run time")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "target subscriber, nickname or agent type (repeatable, comma separated)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt to send")
	return cmd
}

func newCronListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := callCron(cmd, map[string]any{"operation": daemon.OpList})
			if err != nil {
				return err
			}
			if asJSON {
				tasks := res.Tasks
				if tasks == nil {
					tasks = []daemon.TaskView{}
				}
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printCronTasks(cmd.OutOrStdout(), res.Tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func printCronTasks(w io.Writer, tasks []daemon.TaskView) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No cron tasks")
		return
	}
	fmt.Fprintf(w, "%d cron task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(w, "  %s (runs: %d)\n", t.Summary, t.TickCount)
	}
}

func newCronStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop <id|all>",
		Aliases: []string{"rm", "remove"},
		Short:   "Stop a scheduled task, or all of them",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := callCron(cmd, map[string]any{"operation": daemon.OpStop, "id": args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %d cron task(s)\n", res.Stopped)
			return nil
		},
	}
}
