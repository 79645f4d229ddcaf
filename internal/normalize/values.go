package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006-01",
	"20060102",
}

var errEmptyDate = errors.New("empty date")

// ParseDate accepts the timestamp shapes seen across provider exports and
// returns the instant in UTC. Values without a zone are read as UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errEmptyDate
	}
	// Ranges such as "2024-01-01T00:00:00Z/2024-02-01T00:00:00Z" start the period.
	if idx := strings.Index(value, "/"); idx >= 10 {
		value = value[:idx]
	}
	var lastErr error
	for _, layout := range dateLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Period formats ts as the YYYY-MM billing period.
func Period(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}

// ValidPeriod reports whether value is a YYYY-MM period.
func ValidPeriod(value string) bool {
	if len(value) != 7 {
		return false
	}
	_, err := time.Parse("2006-01", value)
	return err == nil
}

// NormalizeCost canonicalizes a decimal amount. Thousands separators and a
// leading currency symbol are stripped; empty input stays empty.
func NormalizeCost(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	value = strings.TrimLeft(value, "$€£¥")
	value = strings.ReplaceAll(value, ",", "")
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		value = "-" + strings.Trim(value, "()")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
