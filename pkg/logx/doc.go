// Package logx configures tldrbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The Service supports swapping sinks and levels at runtime via Apply(),
// which keeps loggers handed out earlier "live" across config reloads.
package logx
