package main

import (
	"github.com/spf13/cobra"

	"singleschedule/internal/app"
)

type globalFlags struct {
	home     string
	config   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "singleschedule",
		Short:         "Run commands on six-field cron schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.home, "home", "", "state directory (default $SINGLESCHEDULE_HOME or the user config dir)")
	pf.StringVar(&g.config, "config", "", "config file (default <home>/config.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newAddCmd(g),
		newRemoveCmd(g),
		newListCmd(g),
		newActivationCmd(g, true),
		newActivationCmd(g, false),
		newStatusCmd(g),
		newDaemonCmd(g),
	)
	return root
}

func (g *globalFlags) open(daemon bool) (*app.App, error) {
	return app.New(app.Options{
		Home:       g.home,
		ConfigPath: g.config,
		LogLevel:   g.logLevel,
		Daemon:     daemon,
	})
}

// withApp opens the app for the duration of fn.
func (g *globalFlags) withApp(fn func(a *app.App) error) error {
	a, err := g.open(false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
