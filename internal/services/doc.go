// Package services defines shared utilities consumed by the ingestion pipeline
// and its collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp input file names, pipeline steps, worker
//     slots, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so every failure can be
//     classified (conversion, archive, unknown column, store or ledger write)
//     without string matching.
//
// Use these helpers when wiring new pipeline steps so failure handling and
// log shape stay uniform across workers.
package services
