// Package textutil provides filename helpers: stems, filesystem-safe names,
// and the work unit identifier derived from a raw input path.
package textutil
