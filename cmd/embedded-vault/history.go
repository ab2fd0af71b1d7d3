package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/embedded-vault/internal/history"
	"github.com/nerrad567/embedded-vault/internal/lifecycle"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		serverID string
		kind     string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled lifecycle events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			db, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := history.NewJournal(db.DB).List(cmd.Context(), history.Filter{
				ServerID: serverID,
				Kind:     lifecycle.Kind(kind),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSERVER\tKIND\tPID\tDURATION\tERROR")
			for _, e := range res.Entries {
				pid := "-"
				if e.PID > 0 {
					pid = fmt.Sprint(e.PID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Time.Local().Format(time.RFC3339),
					e.ServerID,
					e.Kind,
					pid,
					e.Duration.Round(time.Millisecond),
					e.Error,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if res.Total > len(res.Entries) {
				fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d events)\n", len(res.Entries), res.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "only events of this server id")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (starting, ready, stopped, ...)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of events")
	return cmd
}
