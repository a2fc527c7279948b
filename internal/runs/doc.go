// Package runs persists the history of pipeline runs in SQLite.
//
// Each run of the driver over one raw input is a row in runs; every stage
// attempt appends a row to stage_results. The store backs `celigo history`,
// the daily report, and interrupted-run recovery at startup.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// history database to adopt the new schema.
package runs
