package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDaemonCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the scheduler daemon",
	}

	run := &cobra.Command{
		Use:    "run",
		Short:  "Run the scheduler in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunDaemonLoop(cmd.Context())
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			pid, err := a.Control().Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon started (pid %d)\n", pid)
			return nil
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon; running tasks are left alone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.StopDaemon(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return nil
		},
	}

	restart := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			pid, err := a.RestartDaemon(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon restarted (pid %d)\n", pid)
			return nil
		},
	}

	cmd.AddCommand(run, start, stop, restart)
	return cmd
}
