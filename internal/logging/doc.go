// Package logging assembles structured slog loggers and formatting helpers used
// across restorebench.
//
// It owns the console/JSON handlers, resolves the "auto" format against the
// terminal, and exposes context-aware helpers so stage code can tag log lines
// with run IDs, stage names, and item keys. Per-run log files are pruned by
// CleanupOldLogs. A no-op logger is provided for tests.
package logging
