package main

import (
	"fmt"
	"strings"
	"testing"

	"billingest/internal/api"
)

func TestStatusSheetCheckNoColor(t *testing.T) {
	sheet := &statusSheet{}
	sheet.check("billingestd", statusError, "not reachable")
	want := fmt.Sprintf("  %-*s %s", statusLabelWidth, "billingestd:", "[ERROR] not reachable")
	if got := sheet.String(); got != want {
		t.Fatalf("check line mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestStatusSheetCheckWithColor(t *testing.T) {
	sheet := &statusSheet{colorize: true}
	sheet.check("billingestd", statusOK, "running")
	got := sheet.String()
	if !strings.HasPrefix(got, statusStyles[statusOK].color) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestStatusLinesRunningDaemon(t *testing.T) {
	status := api.DaemonStatus{
		Running: true,
		PID:     99,
		Workflow: api.WorkflowStatus{
			Workers:       4,
			QueueDepth:    1,
			QueueCapacity: 8,
			InFlight:      []string{"a.csv"},
			Failed:        2,
			KnownBad:      1,
			LastError:     "conversion error",
		},
		Store: api.StoreStats{LedgerEntries: 3, KnownBad: 1, SchemaVersion: 2, Columns: 5},
	}
	joined := statusLines(status, true, &statusSheet{}).String()
	for _, want := range []string{"running (pid 99)", "1/8", "a.csv", "[WARN] 2 (1 known-bad)", "v2, 5 columns"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("status output missing %q:\n%s", want, joined)
		}
	}
}

func TestListTableEmptyAndFooter(t *testing.T) {
	tbl := newListTable("ledger entries", textColumn("File"), numberColumn("Rows"))
	if got := tbl.render(); got != "No ledger entries." {
		t.Fatalf("unexpected empty table %q", got)
	}
	tbl.add("jan.csv", "12")
	tbl.add("feb.csv")
	got := tbl.render()
	for _, want := range []string{"jan.csv", "feb.csv", "2 ledger entries"} {
		if !strings.Contains(got, want) {
			t.Fatalf("table missing %q:\n%s", want, got)
		}
	}
	for _, unwanted := range []string{"<nil>", "<NIL>", "LEDGER ENTRIES"} {
		if strings.Contains(got, unwanted) {
			t.Fatalf("table contains %q:\n%s", unwanted, got)
		}
	}
}
