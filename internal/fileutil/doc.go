// Package fileutil holds the file copy and inspection helpers used when
// staging raw inputs into a work unit workspace.
package fileutil
