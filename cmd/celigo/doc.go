// Package main hosts the celigo CLI.
//
// The Cobra command tree loads configuration once, then hands off to the
// internal packages: run drives plate images through a stage profile on
// SLURM, history and report read the run store, doctor runs preflight
// checks, and workspace clean sweeps abandoned work unit directories.
package main
