// Package preflight runs readiness checks before ingest starts: directory
// permissions, archive destination reachability and external converter
// availability. The CLI's doctor command and the daemon's startup path share
// RunAll so both report the same problems.
package preflight
