// Package main hosts the billingest CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the ingestion daemon in the foreground
// or as a single scan, and exposes ledger, known-bad, schema and database
// maintenance. Read commands talk to the store directly; operator actions
// go through the daemon's HTTP API when one is reachable so the running
// process reacts immediately.
package main
