package main

import (
	"fmt"
	"time"

	"ufoo/pkg/eventlog"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates "ufoo bus history", a filtered view of the event
// log served from the SQLite index. The index is synced before querying.
func newHistoryCmd() *cobra.Command {
	var (
		publisher string
		target    string
		eventType string
		since     time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query past events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if !ws.bus.Initialized() {
				_, err := ws.bus.Events(0)
				return remediate(err)
			}

			ctx := cmd.Context()
			idx, err := eventlog.Open(ctx, ws.bus.Layout().HistoryDB())
			if err != nil {
				return err
			}
			defer idx.Close()

			if _, err := idx.Sync(ctx, ws.bus); err != nil {
				return fmt.Errorf("sync history: %w", err)
			}

			opts := eventlog.QueryOpts{
				Publisher: publisher,
				Target:    target,
				Type:      eventType,
				Limit:     limit,
			}
			if since > 0 {
				after := time.Now().Add(-since)
				opts.After = &after
			}
			records, err := idx.Query(ctx, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No matching events")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(out, "#%d %s %s -> %s: %s\n",
					r.Seq, r.TS.Local().Format("2006-01-02 15:04:05"), r.Publisher, r.Target, r.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&publisher, "publisher", "", "only events from this publisher")
	cmd.Flags().StringVar(&target, "target", "", "only events addressed to this target")
	cmd.Flags().StringVar(&eventType, "type", "", "message/targeted or message/broadcast")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events (0 = all)")
	return cmd
}
