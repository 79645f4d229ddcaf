package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"billingest/internal/store"
)

func newDBCommand(ctx *commandContext) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	dbCmd.AddCommand(newDBHealthCommand(ctx))
	return dbCmd
}

func newDBHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check database integrity and table layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				health, err := st.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, health)
				}
				sheet := newStatusSheet(cmd.OutOrStdout())
				sheet.section("Database")
				sheet.value("Path", health.DBPath)
				sheet.check("Readable", passFail(health.DatabaseReadable), yesNo(health.DatabaseReadable))
				sheet.check("Integrity", passFail(health.IntegrityCheck), yesNo(health.IntegrityCheck))
				sheet.value("Schema version", fmt.Sprintf("%d", health.SchemaVersion))
				sheet.value("Dataset rows", fmt.Sprintf("%d", health.DatasetRows))
				sheet.value("Dataset columns", fmt.Sprintf("%d", health.DatasetColumns))
				if len(health.MissingTables) > 0 {
					sheet.check("Missing tables", statusError, strings.Join(health.MissingTables, ", "))
				}
				if health.Error != "" {
					sheet.check("Error", statusError, health.Error)
				}
				fmt.Fprintln(cmd.OutOrStdout(), sheet)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
