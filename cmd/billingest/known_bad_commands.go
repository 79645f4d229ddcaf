package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"billingest/internal/store"
)

func newKnownBadCommand(ctx *commandContext) *cobra.Command {
	knownBadCmd := &cobra.Command{
		Use:   "known-bad",
		Short: "Manage files excluded after conversion failures",
	}
	knownBadCmd.AddCommand(newKnownBadListCommand(ctx))
	knownBadCmd.AddCommand(newKnownBadRetryCommand(ctx))
	return knownBadCmd
}

func newKnownBadListCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known-bad files",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				files, err := st.ListKnownBad(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, f, files); handled {
					return err
				}
				tbl := newListTable("known-bad files",
					textColumn("File"),
					textColumn("Kind"),
					numberColumn("Attempts"),
					textColumn("Last failure"),
					textColumn("Error"),
				).limit("Error", 80)
				for _, kb := range files {
					tbl.add(kb.FileName, kb.ErrorKind, strconv.Itoa(kb.Attempts), formatWhen(kb.LastFailedAt), kb.ErrorMessage)
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl.render())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newKnownBadRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [file...]",
		Short: "Clear known-bad markers (all when no file is named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			resp, err := ctx.apiClient().RetryKnownBad(cmd.Context(), args)
			if err == nil {
				fmt.Fprintf(out, "Cleared %d marker(s) via daemon", resp.Cleared)
				if resp.Rescan {
					fmt.Fprint(out, "; rescan started")
				}
				fmt.Fprintln(out)
				return nil
			}
			if !isUnavailable(err) {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				cleared, err := st.ClearKnownBad(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared %d marker(s); files are retried on the next scan\n", cleared)
				return nil
			})
		},
	}
}
