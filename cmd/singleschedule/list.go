package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"singleschedule/internal/app"
	"singleschedule/internal/task"
)

// listEntry is the --json shape: the stored task plus its next fire time.
type listEntry struct {
	task.Task
	NextRun *time.Time `json:"next_run"`
}

func newListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(a *app.App) error {
				tasks, err := a.List(cmd.Context())
				if err != nil {
					return err
				}
				now := time.Now()
				entries := make([]listEntry, 0, len(tasks))
				for _, t := range tasks {
					e := listEntry{Task: t}
					if next := a.NextRun(t, now); !next.IsZero() {
						e.NextRun = &next
					}
					entries = append(entries, e)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				return writeTable(cmd.OutOrStdout(), entries, now)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, entries []listEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tACTIVE\tCRON\tPID\tLAST RUN\tNEXT RUN\tCOMMAND")
	for _, e := range entries {
		pid := "-"
		if e.HasPID() {
			pid = strconv.Itoa(*e.PID)
		}
		last := "never"
		if e.LastRun != nil {
			last = humanize.RelTime(*e.LastRun, now, "ago", "from now")
		}
		next := "-"
		if e.NextRun != nil {
			next = humanize.RelTime(*e.NextRun, now, "ago", "from now")
		}
		active := "no"
		if e.Active {
			active = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.Slug, active, e.Cron, pid, last, next, e.Command)
	}
	return tw.Flush()
}
