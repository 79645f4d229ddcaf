package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"billingest/internal/store"
)

func newSchemaCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the dataset column set and schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				schema := st.Schema()
				if handled, err := writeStructured(cmd, f, schema); handled {
					return err
				}
				tbl := newListTable("columns", numberColumn("#"), textColumn("Column"))
				for i, col := range schema.Columns {
					tbl.add(strconv.Itoa(i+1), col)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Schema version %d\n", schema.Version)
				fmt.Fprintln(out, tbl.render())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}
