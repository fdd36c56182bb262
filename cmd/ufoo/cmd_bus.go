package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"ufoo/pkg/bus"

	"github.com/spf13/cobra"
)

// newBusCmd creates the "ufoo bus" command group.
func newBusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus",
		Short: "Join the event bus and exchange messages",
	}
	cmd.AddCommand(
		newJoinCmd(),
		newLeaveCmd(),
		newRenameCmd(),
		newWhoamiCmd(),
		newSendCmd(),
		newBroadcastCmd(),
		newCheckCmd(),
		newAckCmd(),
		newConsumeCmd(),
		newBusStatusCmd(),
		newResolveCmd(),
		newHistoryCmd(),
		newListenCmd(),
		newAlertCmd(),
	)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func newJoinCmd() *cobra.Command {
	var (
		session    string
		agentType  string
		nickname   string
		pid        int
		launchMode string
		tmuxPane   string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Register this agent session on the bus",
		Long: "Registers (or refreshes) the calling agent. The session and agent type\n" +
			"default to CLAUDE_SESSION_ID / CODEX_SESSION_ID; the owning process\n" +
			"defaults to UFOO_PARENT_PID, else the nearest ancestor matching the\n" +
			"agent pattern.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			id := identityFromEnv()
			if session == "" {
				session = id.SessionID
			}
			if agentType == "" {
				agentType = id.AgentType
			}
			pid = agentPID(pid, ws.cfg.AgentPattern)
			if tmuxPane == "" {
				tmuxPane = os.Getenv("TMUX_PANE")
			}
			res, err := ws.bus.Join(bus.JoinRequest{
				SessionID:  session,
				AgentType:  agentType,
				Nickname:   nickname,
				PID:        pid,
				TTY:        currentTTY(),
				TmuxPane:   tmuxPane,
				LaunchMode: launchMode,
			})
			if err != nil {
				return remediate(err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			p := newPrinter(cmd)
			if res.Nickname != "" {
				p.OK("Joined event bus: %s (%s)", res.SubscriberID, res.Nickname)
			} else {
				p.OK("Joined event bus: %s", res.SubscriberID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default: from environment, or generated)")
	cmd.Flags().StringVar(&agentType, "agent-type", "", "agent type (default: from environment)")
	cmd.Flags().StringVar(&nickname, "nickname", "", "unique nickname")
	cmd.Flags().IntVar(&pid, "pid", -1, "pid of the owning agent process, 0 disables liveness checks (default: detected)")
	cmd.Flags().StringVar(&launchMode, "launch-mode", "", "how the agent was launched (terminal, tmux, internal)")
	cmd.Flags().StringVar(&tmuxPane, "tmux-pane", "", "tmux pane id (default: $TMUX_PANE)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave [subscriber]",
		Short: "Remove a subscriber from the bus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := subscriberArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			removed, err := ws.bus.Leave(id)
			if err != nil {
				return remediate(err)
			}
			if !removed {
				return fmt.Errorf("subscriber not found: %s: %w", id, bus.ErrNotFound)
			}
			newPrinter(cmd).OK("Left event bus: %s", id)
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <subscriber> <nickname>",
		Short: "Change a subscriber's nickname",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			res, err := ws.bus.Rename(args[0], args[1])
			if err != nil {
				return remediate(err)
			}
			newPrinter(cmd).OK("Renamed %s: %q -> %q", res.SubscriberID, res.OldNickname, res.NewNickname)
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the subscriber id of this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromEnv().SubscriberID()
			if id == "" {
				return errNoSession
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			reg, err := ws.bus.Registry()
			if err != nil {
				return remediate(err)
			}
			if _, ok := reg.Get(id); !ok {
				return fmt.Errorf("not joined as %s, run: ufoo bus join", id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func printSendResult(cmd *cobra.Command, res bus.SendResult, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	newPrinter(cmd).OK("Message sent: seq=%d -> %s", res.Seq, strings.Join(res.Targets, ", "))
	return nil
}

func newSendCmd() *cobra.Command {
	var (
		from   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "send <target> <message...>",
		Short: "Send a message to a subscriber, nickname, agent type or *",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			res, err := ws.bus.Send(args[0], strings.Join(args[1:], " "), publisherFor(ws.cfg, from))
			if err != nil {
				return remediate(err)
			}
			return printSendResult(cmd, res, asJSON)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "publisher name (default: $UFOO_PUBLISHER, $AI_BUS_PUBLISHER or the session id)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newBroadcastCmd() *cobra.Command {
	var (
		from   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "broadcast <message...>",
		Short: "Send a message to every active subscriber",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			res, err := ws.bus.Broadcast(strings.Join(args, " "), publisherFor(ws.cfg, from))
			if err != nil {
				return remediate(err)
			}
			return printSendResult(cmd, res, asJSON)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "publisher name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var (
		autoAck bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "check [subscriber]",
		Short: "Show pending messages without clearing them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := subscriberArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			pending, err := ws.bus.Check(id)
			if err != nil {
				return remediate(err)
			}
			if asJSON {
				if pending == nil {
					pending = []bus.Event{}
				}
				if err := writeJSON(cmd.OutOrStdout(), pending); err != nil {
					return err
				}
			} else {
				printPending(newPrinter(cmd), id, pending)
			}
			if autoAck && len(pending) > 0 {
				if _, err := ws.bus.Ack(id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoAck, "auto-ack", false, "clear the queue after printing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print pending events as JSON")
	return cmd
}

func printPending(p *printer, id string, pending []bus.Event) {
	if len(pending) == 0 {
		p.OK("No pending messages")
		return
	}
	p.Warn("You have %d pending event(s):", len(pending))
	p.Println()
	for _, ev := range pending {
		data, _ := json.Marshal(ev.Data)
		p.Println(fmt.Sprintf("  @you from %s", ev.Publisher))
		p.Println(fmt.Sprintf("  Type: %s/%s", ev.Type, ev.Event))
		p.Println(fmt.Sprintf("  Content: %s", data))
		p.Println()
	}
	p.Println("After handling, run: ufoo bus ack " + id)
}

func newAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack [subscriber]",
		Short: "Clear every pending message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := subscriberArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			n, err := ws.bus.Ack(id)
			if err != nil {
				return remediate(err)
			}
			p := newPrinter(cmd)
			if n == 0 {
				p.OK("No pending messages to acknowledge")
				return nil
			}
			p.OK("Acknowledged and cleared %d message(s)", n)
			return nil
		},
	}
}

func newConsumeCmd() *cobra.Command {
	var fromBeginning bool
	cmd := &cobra.Command{
		Use:   "consume [subscriber]",
		Short: "Stream log events past this subscriber's offset",
		Long:  "Prints every event in the global log after the stored offset as one JSON\nline each, then advances the offset.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := subscriberArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			res, err := ws.bus.Consume(id, fromBeginning)
			if err != nil {
				return remediate(err)
			}
			out := cmd.OutOrStdout()
			for _, ev := range res.Consumed {
				line, err := json.Marshal(ev)
				if err != nil {
					return fmt.Errorf("encode event %d: %w", ev.Seq, err)
				}
				fmt.Fprintln(out, string(line))
			}
			newPrinter(cmd).Info("Consumed %d events, new offset: %d", len(res.Consumed), res.NewOffset)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "replay the whole log")
	return cmd
}

func newBusStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show subscribers, unread counts and log statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			st, err := ws.bus.Status()
			if err != nil {
				return remediate(err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printBusStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func printBusStatus(w io.Writer, st bus.Status) {
	fmt.Fprintln(w, "=== Event Bus Status ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Bus ID: %s\n", st.BusID)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Online subscribers:")
	if len(st.Active) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, a := range st.Active {
		unread := ""
		if n := st.Unread.PerSubscriber[a.ID]; n > 0 {
			unread = fmt.Sprintf(" [%d unread]", n)
		}
		if a.Nickname != "" {
			fmt.Fprintf(w, "  %s (%s) via %s%s\n", a.ID, a.Nickname, a.LaunchMode, unread)
		} else {
			fmt.Fprintf(w, "  %s via %s%s\n", a.ID, a.LaunchMode, unread)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Event statistics:")
	if len(st.Shards) == 0 {
		fmt.Fprintln(w, "  (no events yet)")
		return
	}
	for _, s := range st.Shards {
		fmt.Fprintf(w, "  %s: %d events\n", s.Name, s.Count)
	}
	fmt.Fprintf(w, "  Total: %d events\n", st.TotalEvents)
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <my-id> <agent-type>",
		Short: "Find the single active agent of a type to talk to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			targetType := args[1]
			res, err := ws.bus.Resolve(args[0], targetType)
			if err != nil {
				return remediate(err)
			}
			out := cmd.OutOrStdout()
			if res.Single != "" {
				fmt.Fprintln(out, res.Single)
				return nil
			}
			if len(res.Candidates) == 0 {
				return fmt.Errorf("no %s agents found: %w", targetType, bus.ErrNoTargets)
			}
			fmt.Fprintf(out, "Multiple %s agents found:\n", targetType)
			for _, c := range res.Candidates {
				if c.Nickname != "" {
					fmt.Fprintf(out, "  %s (%s)\n", c.ID, c.Nickname)
				} else {
					fmt.Fprintf(out, "  %s\n", c.ID)
				}
			}
			return errors.New("ambiguous target, pick one id")
		},
	}
}
