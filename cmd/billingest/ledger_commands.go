package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"billingest/internal/store"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit the processed-file ledger",
	}
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerForgetCommand(ctx))
	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				entries, err := st.ListLedger(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, f, entries); handled {
					return err
				}
				tbl := newListTable("ledger entries",
					textColumn("File"),
					numberColumn("Rows"),
					textColumn("Periods"),
					textColumn("Checksum"),
					textColumn("Processed"),
				).limit("Periods", 40)
				for _, e := range entries {
					tbl.add(e.FileName, strconv.FormatInt(e.RowCount, 10), strings.Join(e.Periods, ","), e.Checksum, formatWhen(e.ProcessedAt))
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl.render())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newLedgerForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <file>...",
		Short: "Remove ledger entries so the files are processed again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				removed, err := st.ForgetLedgerEntries(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d ledger entr%s\n", removed, plural(removed, "y", "ies"))
				return nil
			})
		},
	}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
