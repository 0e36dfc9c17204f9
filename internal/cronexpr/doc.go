// Package cronexpr parses and evaluates six-field cron expressions
// (second minute hour day-of-month month day-of-week).
//
// A parsed Expr is an immutable set of bitmasks, so Matches is a pure function
// of its arguments and an Expr may be shared between goroutines and reused
// every tick.
package cronexpr
