package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConversion    = errors.New("conversion error")
	ErrArchive       = errors.New("archive error")
	ErrUnknownColumn = errors.New("unknown column")
	ErrStoreWrite    = errors.New("store write error")
	ErrLedgerWrite   = errors.New("ledger write error")
	ErrTimeout       = errors.New("timeout")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Kind is the short classification attached to failure log lines.
type Kind string

const (
	KindConversion    Kind = "conversion"
	KindArchive       Kind = "archive"
	KindUnknownColumn Kind = "unknown_column"
	KindStoreWrite    Kind = "store_write"
	KindLedgerWrite   Kind = "ledger_write"
	KindTimeout       Kind = "timeout"
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
	KindCanceled      Kind = "canceled"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err by the first matching marker. Conversion wins over
// timeout so a stuck normalize call is reported as a conversion failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConversion):
		return KindConversion
	case errors.Is(err, ErrUnknownColumn):
		return KindUnknownColumn
	case errors.Is(err, ErrArchive):
		return KindArchive
	case errors.Is(err, ErrLedgerWrite):
		return KindLedgerWrite
	case errors.Is(err, ErrStoreWrite):
		return KindStoreWrite
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindTransient
	}
}

// Permanent reports whether err will fail identically on retry. Only
// conversion failures qualify; the file gets a known-bad marker instead of
// being rescheduled.
func Permanent(err error) bool {
	return KindOf(err) == KindConversion
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
