// Package columnar encodes and decodes the tabular files exchanged between the
// normalize step, the monthly datasets and the store.
//
// Every column is an optional UTF-8 string; a record without a key for a
// column reads back as NULL. The logical column order is kept in the file's
// key/value metadata because parquet groups store fields sorted by name.
package columnar
