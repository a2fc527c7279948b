// Package logging assembles structured slog loggers and formatting helpers used
// across celigo.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context-aware helpers so pipeline code tags every line with the work unit,
// stage, and scheduler job it concerns. A no-op logger is provided for tests.
package logging
