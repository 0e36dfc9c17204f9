// Package task holds the scheduler's data model and error taxonomy.
//
// It has no dependencies on storage or execution so every other package
// (store drivers, launcher, scheduler loop, activation controller, CLI) can
// share the same types.
package task
