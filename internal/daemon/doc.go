// Package daemon controls the single background scheduler process.
//
// The daemon holds an exclusive flock on daemon.lock for its whole
// lifetime and records its pid in daemon.pid. "Running" means the lock is
// held; a pid file whose lock is free is stale. Because the kernel drops the
// lock when the process dies, a crashed daemon never looks alive.
package daemon
