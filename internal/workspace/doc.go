// Package workspace owns the scratch directory each work unit runs in.
//
// A Manager hands out one directory per work unit under the configured root,
// guards it with an advisory file lock so two runs never share it, copies the
// raw input in, and deletes the directory when the run finishes. Directories
// are tagged with an owner marker so CleanStale only sweeps what it created.
package workspace
