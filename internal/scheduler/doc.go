// Package scheduler runs the daemon's tick loop.
//
// Every second the loop reloads the task set, reconciles recorded pids
// against live processes, launches each active task whose cron expression
// matches the captured instant and writes the per-task changes back through
// the store's locked Update. Loop holds the per-tick logic; Service drives it
// from a robfig/cron trigger aligned to wall-clock seconds.
package scheduler
