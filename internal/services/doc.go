// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp work unit IDs, stage names, scheduler job IDs,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell a
//     workspace problem from a scheduler query failure or a failed job.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
