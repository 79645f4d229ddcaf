// Command billingestd runs the billing ingestion daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"billingest/internal/config"
	"billingest/internal/daemonrun"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("billingestd", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	logLevel := fs.String("log-level", "", "Override the configured log level")
	development := fs.Bool("dev", false, "Include source locations in log output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return daemonrun.Run(ctx, cfg, daemonrun.Options{
		LogLevel:    *logLevel,
		Development: *development,
	})
}
