// Package normalize converts raw billing exports into the columnar
// intermediate consumed by the rest of the pipeline.
//
// Converter is the built-in implementation: it reads plain, gzip or zstd
// compressed CSV, sanitizes headers, derives the billing period from the
// first configured date column and canonicalizes cost values.
// CommandNormalizer delegates to an external program instead. Both report
// malformed input as services.ErrConversion so the caller can mark the file
// known-bad.
package normalize
