// Package pipeline drives one work unit through its profile's stages.
//
// A Driver acquires the work unit's workspace, stages the raw input, and then
// submits each stage to the scheduler in declared order, polling until the
// stage's expected output appears or the job is declared failed or timed out.
// The first stage that does not complete aborts the remaining stages. The
// terminal outcome is written to the run history, reported to the notifier,
// and, on success, handed to the publisher. The workspace is released (or
// retained for inspection) exactly once on every exit path.
//
// RunAll fans many inputs out over a bounded errgroup; work units share
// nothing but the workspace root, whose per-id locks keep them apart.
package pipeline
