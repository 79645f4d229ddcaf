package store

import (
	"errors"
	"strings"

	"billingest/internal/services"
)

// ErrAlreadyCommitted reports that another worker committed the ledger entry first.
var ErrAlreadyCommitted = errors.New("ledger entry already committed")

// UnknownColumnError lists record columns that are not part of the schema.
// Callers must extend the schema before appending rows that use them.
type UnknownColumnError struct {
	Columns []string
}

func (e *UnknownColumnError) Error() string {
	return "unknown column(s): " + strings.Join(e.Columns, ", ")
}

// Unwrap ties the error to services.ErrUnknownColumn for classification.
func (e *UnknownColumnError) Unwrap() error {
	return services.ErrUnknownColumn
}
