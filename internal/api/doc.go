// Package api defines the wire-format types shared by the daemon's HTTP
// server and the CLI, plus a small HTTP client for talking to a running
// daemon.
//
// # Key Types
//
// DaemonStatus: daemon running state, worker pool summary, and store stats.
//
// LedgerEntry/KnownBadFile: transport forms of the store's ledger and
// known-bad records.
//
// RescanResponse/RetryRequest/RetryResponse: operator actions.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds
// and are omitted when zero.
package api
