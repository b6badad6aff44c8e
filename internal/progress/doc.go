// Package progress reports bundle download activity.
//
// A [Reporter] aggregates counts and byte totals across concurrent bundle
// downloads and periodically prints a human-readable status line. It also
// provides the byte-size formatting and parsing helpers used by the CLI and
// configuration ("512MB" style strings).
package progress
