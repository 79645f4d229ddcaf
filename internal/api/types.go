package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkflowStatus summarizes the worker pool.
type WorkflowStatus struct {
	Running       bool     `json:"running"`
	Workers       int      `json:"workers"`
	QueueDepth    int      `json:"queueDepth"`
	QueueCapacity int      `json:"queueCapacity"`
	InFlight      []string `json:"inFlight"`
	Processed     int64    `json:"processed"`
	Failed        int64    `json:"failed"`
	KnownBad      int64    `json:"knownBad"`
	Skipped       int64    `json:"skipped"`
	LastError     string   `json:"lastError,omitempty"`
	LastFile      string   `json:"lastFile,omitempty"`
	LastProcessed string   `json:"lastProcessed,omitempty"`
}

// StoreStats mirrors store table sizes.
type StoreStats struct {
	LedgerEntries int    `json:"ledgerEntries"`
	KnownBad      int    `json:"knownBad"`
	DatasetRows   int    `json:"datasetRows"`
	Columns       int    `json:"columns"`
	SchemaVersion int    `json:"schemaVersion"`
	Error         string `json:"error,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    string         `json:"startedAt,omitempty"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	InputDir     string         `json:"inputDir"`
	Archive      string         `json:"archive"`
	Workflow     WorkflowStatus `json:"workflow"`
	Store        StoreStats     `json:"store"`
}

// LedgerEntry is a processed file.
type LedgerEntry struct {
	FileName    string   `json:"fileName"`
	Checksum    string   `json:"checksum,omitempty"`
	RowCount    int64    `json:"rowCount"`
	Periods     []string `json:"periods,omitempty"`
	ProcessedAt string   `json:"processedAt,omitempty"`
}

// LedgerResponse wraps ledger entries.
type LedgerResponse struct {
	Entries []LedgerEntry `json:"entries"`
}

// KnownBadFile is a file excluded from processing after a conversion failure.
type KnownBadFile struct {
	FileName      string `json:"fileName"`
	ErrorKind     string `json:"errorKind"`
	ErrorMessage  string `json:"errorMessage"`
	Attempts      int    `json:"attempts"`
	FirstFailedAt string `json:"firstFailedAt,omitempty"`
	LastFailedAt  string `json:"lastFailedAt,omitempty"`
}

// KnownBadResponse wraps known-bad entries.
type KnownBadResponse struct {
	Files []KnownBadFile `json:"files"`
}

// RescanResponse acknowledges a scan request.
type RescanResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// RetryRequest names known-bad files to clear. An empty list clears all.
type RetryRequest struct {
	Files []string `json:"files"`
}

// RetryResponse reports how many markers were cleared.
type RetryResponse struct {
	Cleared int64 `json:"cleared"`
	Rescan  bool  `json:"rescan"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
