package store

import "time"

// Schema is the ordered set of dataset columns plus a counter that increments
// each time the set grows.
type Schema struct {
	Version int      `json:"version"`
	Columns []string `json:"columns"`
}

// Has reports whether name (compared case-insensitively) is part of the schema.
func (s Schema) Has(name string) bool {
	for _, col := range s.Columns {
		if equalFold(col, name) {
			return true
		}
	}
	return false
}

// LedgerEntry records a file whose pipeline finished.
type LedgerEntry struct {
	FileName    string    `json:"file_name"`
	Checksum    string    `json:"checksum,omitempty"`
	RowCount    int64     `json:"row_count"`
	Periods     []string  `json:"periods,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// KnownBadFile records a file that failed conversion and is no longer retried.
type KnownBadFile struct {
	FileName      string    `json:"file_name"`
	ErrorKind     string    `json:"error_kind"`
	ErrorMessage  string    `json:"error_message"`
	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// Stats summarizes table sizes.
type Stats struct {
	LedgerEntries int `json:"ledger_entries"`
	KnownBad      int `json:"known_bad"`
	DatasetRows   int `json:"dataset_rows"`
	Columns       int `json:"columns"`
	SchemaVersion int `json:"schema_version"`
}

// DatabaseHealth captures diagnostic information about the database file.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	DatasetRows      int
	DatasetColumns   int
	Error            string
}
