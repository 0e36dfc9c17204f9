// Package storage persists the task set and the audit journal.
//
// Two drivers exist: a JSON document on disk (the default) and SQLite.
// Both serialize writers across processes, so the CLI and the daemon can
// mutate the same store concurrently without losing updates.
package storage
