package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// backoff retries an operation while SQLite reports SQLITE_BUSY, doubling the
// pause between attempts up to max.
type backoff struct {
	attempts int
	first    time.Duration
	max      time.Duration
}

var sqliteBusy = backoff{attempts: 5, first: 10 * time.Millisecond, max: 200 * time.Millisecond}

func (b backoff) retry(ctx context.Context, op func() error) error {
	pause := b.first
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isBusy(err) || attempt >= b.attempts {
			return err
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		pause = min(pause*2, b.max)
	}
}

// isBusy matches the primary SQLITE_BUSY result code, including extended
// codes, and the driver's message when no code is exposed.
func isBusy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == 5
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
