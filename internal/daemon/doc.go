// Package daemon coordinates the long-running billingest process.
//
// It wires configuration, the store, the workflow manager, the directory
// watcher and the HTTP API into a single lifecycle with flock-based locking
// to prevent multiple instances. Keep orchestration logic here: the
// per-file pipeline lives in workflow while the daemon focuses on startup,
// shutdown, and operator actions.
package daemon
