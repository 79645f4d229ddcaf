// Package logs reads the daemon's log file for the CLI.
//
// Last returns the trailing lines with bounded memory, and Follow polls for
// appended lines until its context ends, restarting from the top when the
// file is rotated or truncated. Both accept a Filter so callers can narrow
// output to one source file or a free-text match.
package logs
