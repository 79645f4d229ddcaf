// Package workflow schedules input files onto a bounded worker pool and runs
// each file through the ingestion pipeline.
//
// The Manager owns the dispatch queue, the in-flight set that keeps a file
// from being processed twice at once, and the worker goroutines. Scan and
// OnFileEvent share one dispatch path: reserve the in-flight slot, skip
// files that are ledgered or known-bad, then enqueue with backoff when the
// queue is full. Files are never dropped for lack of queue space.
//
// A worker runs seven strictly ordered steps per file: normalize, dataset,
// schema, store, archive, cleanup and ledger. Any failure before the ledger
// step leaves the file unledgered so a later scan retries it; conversion
// failures additionally mark the file known-bad.
package workflow
