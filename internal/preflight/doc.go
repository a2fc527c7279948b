// Package preflight provides readiness checks for the scheduler commands,
// filesystem paths, and publishing backends that Celigo depends on.
//
// These checks run in two contexts:
//   - "celigo run" calls RunAll before submitting anything and refuses to
//     start when a required check fails, rather than failing mid-pipeline.
//   - "celigo doctor" prints every result as a table.
//
// Storage and database checks only run when those backends are configured.
package preflight
