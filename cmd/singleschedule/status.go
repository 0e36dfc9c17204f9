package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"singleschedule/internal/app"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and task summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(a *app.App) error {
				now := time.Now()
				st, err := a.Status(cmd.Context(), now)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, st)
				}
				if st.Running() {
					fmt.Fprintf(out, "daemon:  running (pid %d)\n", st.DaemonPID)
				} else {
					fmt.Fprintln(out, "daemon:  stopped")
				}
				fmt.Fprintf(out, "tasks:   %s total, %s active\n", humanize.Comma(int64(st.Total)), humanize.Comma(int64(st.Active)))
				if next := soonest(st.Tasks); next != nil {
					fmt.Fprintf(out, "next:    %s (%s)\n", next.Slug, humanize.RelTime(*next.NextRun, now, "ago", "from now"))
				}
				fmt.Fprintf(out, "store:   %s (%s)\n", st.Store, st.Driver)
				fmt.Fprintf(out, "home:    %s\n", st.Home)
				fmt.Fprintf(out, "zone:    %s\n", st.Timezone)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func soonest(tasks []app.TaskStatus) *app.TaskStatus {
	var best *app.TaskStatus
	for i := range tasks {
		t := &tasks[i]
		if t.NextRun == nil {
			continue
		}
		if best == nil || t.NextRun.Before(*best.NextRun) {
			best = t
		}
	}
	return best
}
