// Package launcher starts task commands as detached child processes.
//
// A launched child gets its own session, reads /dev/null and appends its
// output to <log_dir>/<slug>.log. Launch returns as soon as the process has
// started; a reaper goroutine collects the exit status and reports it on
// the event bus so the daemon never accumulates zombies.
package launcher
