// Package stage declares the pipeline's stages and submits them.
//
// A Profile is an ordered list of Spec values loaded from embedded YAML (the
// 96-well and 6-well plate profiles) or from a site profile file. The
// Submitter renders each stage's batch script and file lists into the work
// unit's workspace with text/template and hands the script to the scheduler.
package stage
