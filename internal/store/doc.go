// Package store persists ingestion state in a single SQLite database.
//
// Three concerns share the file: the processed-file ledger that decides
// whether an input is done, the known-bad markers that keep permanently
// broken inputs from being retried, and the dataset table whose column set
// only ever grows. The Store serializes schema extension and ledger commits
// itself so workers never coordinate directly.
//
// Column names in the dataset table are compared case-insensitively, as
// SQLite does. The registry in dataset_columns keeps the spelling that first
// introduced each column.
//
// Schema changes bump schemaVersion in schema.go; users recreate the
// database to adopt the new layout.
package store
