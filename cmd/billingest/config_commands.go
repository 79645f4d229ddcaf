package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"billingest/internal/config"
	"billingest/internal/deps"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			resolve := config.DefaultConfigPath
			if target := strings.TrimSpace(targetPath); target != "" {
				resolve = func() (string, error) { return config.ExpandPath(target) }
			}
			target, err := resolve()
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			if err := config.WriteSample(target, overwrite); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%w (use --overwrite to replace it)", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit input_dir and the normalize column lists before running billingest.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configFlagValue())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Normalizer: %s\n", map[bool]string{true: "external command", false: "built-in converter"}[cfg.UsesExternalNormalizer()])
			fmt.Fprintf(out, "Archive: %s\n", map[bool]string{true: cfg.Paths.ArchiveDir, false: cfg.Archive.BucketURL}[cfg.ArchiveIsLocal()])
			alerts := "disabled"
			if cfg.Notifications.NtfyTopic != "" {
				alerts = cfg.Notifications.NtfyTopic
			}
			fmt.Fprintf(out, "Alerts: %s\n", alerts)
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			for _, status := range statuses {
				fmt.Fprintf(out, "Dependency %s (%s): %s\n", status.Name, status.Command, yesNo(status.Available))
			}
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("missing dependency %s: %s", missing[0].Name, missing[0].Detail)
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
