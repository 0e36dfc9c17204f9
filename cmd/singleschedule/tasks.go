package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"singleschedule/internal/app"
	"singleschedule/internal/task"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	var (
		slug     string
		cron     string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add --slug SLUG --cron EXPR [--inactive] -- COMMAND [ARGS...]",
		Short: "Add a task",
		Example: `  singleschedule add --slug backup --cron "0 0 3 * * *" -- /usr/local/bin/backup --full
  singleschedule add --slug weekdays --cron "0 30 9 * * MON-FRI" -- notify-send standup`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.App) error {
				ctx := cmd.Context()
				if err := a.Add(ctx, slug, cron, args, !inactive); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", strings.TrimSpace(slug))
				if inactive {
					return nil
				}
				return applyPlan(cmd, a)
			})
		},
	}
	cmd.Flags().StringVarP(&slug, "slug", "s", "", "unique task name")
	cmd.Flags().StringVarP(&cron, "cron", "c", "", "six-field cron expression: sec min hour dom month dow")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "add the task disabled")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("cron")
	// Everything after the command name belongs to the command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newRemoveCmd(g *globalFlags) *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:     "remove --slug SLUG",
		Aliases: []string{"rm"},
		Short:   "Remove a task",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(a *app.App) error {
				if err := a.Remove(cmd.Context(), slug); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", slug)
				return applyPlan(cmd, a)
			})
		},
	}
	cmd.Flags().StringVarP(&slug, "slug", "s", "", "task to remove")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

// newActivationCmd builds "start" (active=true) and "stop". Without slugs,
// start enables every task and stop shuts the daemon down, leaving the
// active flags as they are.
func newActivationCmd(g *globalFlags, active bool) *cobra.Command {
	var all bool
	use, short := "start [SLUG...] [--all]", "Enable tasks and start the daemon if needed"
	if !active {
		use, short = "stop [SLUG...] [--all]", "Disable tasks, or stop the daemon when no slugs are given"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("use either slugs or --all")
			}
			return g.withApp(func(a *app.App) error {
				if !active && !all && len(args) == 0 {
					return stopDaemon(cmd, a)
				}
				var (
					action task.DaemonAction
					err    error
				)
				if len(args) == 0 {
					action, err = a.SetAllActive(cmd.Context(), active)
				} else {
					action, err = a.SetActive(cmd.Context(), args, active)
				}
				if err != nil {
					return err
				}
				verb := "started"
				if !active {
					verb = "stopped"
				}
				if len(args) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s all tasks\n", verb)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, strings.Join(args, ", "))
				}
				return applyAction(cmd, a, action)
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "apply to every task")
	return cmd
}

func stopDaemon(cmd *cobra.Command, a *app.App) error {
	done, err := a.ApplyDaemonAction(cmd.Context(), task.StopDaemon)
	if err != nil {
		return err
	}
	if done {
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "daemon not running")
	}
	return nil
}

func applyPlan(cmd *cobra.Command, a *app.App) error {
	action, err := a.DaemonAction(cmd.Context())
	if err != nil {
		return err
	}
	return applyAction(cmd, a, action)
}

func applyAction(cmd *cobra.Command, a *app.App, action task.DaemonAction) error {
	done, err := a.ApplyDaemonAction(cmd.Context(), action)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	switch action {
	case task.StartDaemon:
		fmt.Fprintln(cmd.OutOrStdout(), "daemon started")
	case task.StopDaemon:
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
	}
	return nil
}
