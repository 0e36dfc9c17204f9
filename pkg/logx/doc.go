// Package logx configures singleschedule's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured (the daemon log)
//   - Sinks swappable at runtime when the config file changes
package logx
