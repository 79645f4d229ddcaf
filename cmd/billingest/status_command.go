package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"billingest/internal/api"
	"billingest/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, status, reachable := ctx.daemonReachable(cmd.Context())
			if !reachable {
				var stats store.Stats
				err := ctx.withStore(func(st *store.Store) error {
					var statsErr error
					stats, statsErr = st.Stats(cmd.Context())
					status.DatabasePath = st.Path()
					return statsErr
				})
				status.Store = api.FromStats(stats, err)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			sheet := statusLines(status, reachable, newStatusSheet(cmd.OutOrStdout()))
			fmt.Fprintln(cmd.OutOrStdout(), sheet)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func statusLines(status api.DaemonStatus, reachable bool, sheet *statusSheet) *statusSheet {
	sheet.section("Daemon")
	if !reachable {
		sheet.check("billingestd", statusWarn, "not reachable")
	} else {
		sheet.check("billingestd", statusOK, fmt.Sprintf("running (pid %d)", status.PID))
		sheet.value("Started", valueOrDash(status.StartedAt))
		sheet.value("Input", status.InputDir)
		sheet.value("Archive", status.Archive)

		wf := status.Workflow
		sheet.section("Workers")
		sheet.value("Workers", fmt.Sprintf("%d", wf.Workers))
		sheet.value("Queue", fmt.Sprintf("%d/%d", wf.QueueDepth, wf.QueueCapacity))
		sheet.value("In flight", valueOrDash(strings.Join(wf.InFlight, ", ")))
		sheet.value("Processed", fmt.Sprintf("%d", wf.Processed))
		sheet.value("Skipped", fmt.Sprintf("%d", wf.Skipped))
		sheet.value("Last file", valueOrDash(wf.LastFile))
		sheet.check("Failed", warnWhen(wf.Failed > 0), fmt.Sprintf("%d (%d known-bad)", wf.Failed, wf.KnownBad))
		if wf.LastError != "" {
			sheet.value("Last error", wf.LastError)
		}
	}

	st := status.Store
	sheet.section("Store")
	if st.Error != "" {
		sheet.check("Database", statusError, st.Error)
		return sheet
	}
	sheet.value("Database", valueOrDash(status.DatabasePath))
	sheet.value("Ledger entries", fmt.Sprintf("%d", st.LedgerEntries))
	sheet.value("Dataset rows", fmt.Sprintf("%d", st.DatasetRows))
	sheet.value("Schema", fmt.Sprintf("v%d, %d columns", st.SchemaVersion, st.Columns))
	sheet.check("Known-bad files", warnWhen(st.KnownBad > 0), fmt.Sprintf("%d", st.KnownBad))
	return sheet
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
