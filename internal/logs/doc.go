// Package logs reads celigo's JSON run log with bounded memory: the last N
// matching lines, then optionally new lines as they are appended. Filters
// select one work unit, correlation id, stage, or minimum level so a single
// plate can be followed while several run concurrently.
package logs
