package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"billingest/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrStoreWrite, "append", "insert", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrStoreWrite) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"append", "insert", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	timeout := services.Wrap(services.ErrTimeout, "normalize", "run", "deadline exceeded", context.DeadlineExceeded)
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, ""},
		{"conversion", services.Wrap(services.ErrConversion, "normalize", "parse", "bad header", nil), services.KindConversion},
		{"timeout inside conversion", services.Wrap(services.ErrConversion, "normalize", "run", "timed out", timeout), services.KindConversion},
		{"bare timeout", timeout, services.KindTimeout},
		{"archive", services.Wrap(services.ErrArchive, "archive", "move", "", nil), services.KindArchive},
		{"unknown column", fmt.Errorf("append: %w", services.ErrUnknownColumn), services.KindUnknownColumn},
		{"store", services.Wrap(services.ErrStoreWrite, "store", "insert", "", nil), services.KindStoreWrite},
		{"ledger", services.Wrap(services.ErrLedgerWrite, "ledger", "commit", "", nil), services.KindLedgerWrite},
		{"canceled", fmt.Errorf("scan: %w", context.Canceled), services.KindCanceled},
		{"plain", errors.New("io"), services.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPermanentOnlyForConversion(t *testing.T) {
	if !services.Permanent(services.Wrap(services.ErrConversion, "normalize", "", "", nil)) {
		t.Fatal("expected conversion failure to be permanent")
	}
	if services.Permanent(services.Wrap(services.ErrStoreWrite, "store", "", "", nil)) {
		t.Fatal("expected store failure to be retryable")
	}
}
