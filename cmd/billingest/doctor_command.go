package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"billingest/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, archive destination and converter availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			sheet := newStatusSheet(out)
			sheet.section("Preflight")
			for _, r := range results {
				sheet.check(r.Name, passFail(r.Passed), r.Detail)
			}
			fmt.Fprintln(out, sheet)
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
