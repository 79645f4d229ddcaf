package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateNormalize(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be >= 0")
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.input_dir":        c.Paths.InputDir,
		"paths.output_dir":       c.Paths.OutputDir,
		"paths.intermediate_dir": c.Paths.IntermediateDir,
		"paths.state_dir":        c.Paths.StateDir,
	}
	if c.ArchiveIsLocal() {
		required["paths.archive_dir"] = c.Paths.ArchiveDir
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	input := filepath.Clean(c.Paths.InputDir)
	if filepath.Clean(c.Paths.OutputDir) == input {
		return errors.New("paths.output_dir must differ from paths.input_dir")
	}
	if filepath.Clean(c.Paths.IntermediateDir) == input {
		return errors.New("paths.intermediate_dir must differ from paths.input_dir")
	}
	if c.ArchiveIsLocal() && filepath.Clean(c.Paths.ArchiveDir) == input {
		return errors.New("paths.archive_dir must differ from paths.input_dir")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if err := ensurePositiveMap(map[string]int{
		"ingest.workers":                     c.Ingest.Workers,
		"ingest.queue_size":                  c.Ingest.QueueSize,
		"ingest.normalize_timeout":           c.Ingest.NormalizeTimeout,
		"ingest.dispatch_backoff_initial_ms": c.Ingest.DispatchBackoffInitialMS,
		"ingest.dispatch_backoff_max_ms":     c.Ingest.DispatchBackoffMaxMS,
	}); err != nil {
		return err
	}
	if c.Ingest.DispatchBackoffInitialMS > c.Ingest.DispatchBackoffMaxMS {
		return errors.New("ingest.dispatch_backoff_initial_ms must not exceed ingest.dispatch_backoff_max_ms")
	}
	if c.Ingest.SettleSeconds < 0 {
		return errors.New("ingest.settle_seconds must be >= 0")
	}
	if c.Ingest.IntermediateMaxAgeHours < 0 {
		return errors.New("ingest.intermediate_max_age_hours must be >= 0")
	}
	for _, pattern := range c.Ingest.IncludePatterns {
		if _, err := filepath.Match(pattern, "probe.csv"); err != nil {
			return fmt.Errorf("ingest.include_patterns: invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateNormalize() error {
	switch c.Normalize.Compression {
	case "zstd", "snappy", "gzip", "none":
	default:
		return fmt.Errorf("normalize.compression: unsupported value %q (use zstd, snappy, gzip, or none)", c.Normalize.Compression)
	}
	if len(c.Normalize.Command) > 0 {
		joined := strings.Join(c.Normalize.Command, " ")
		if !strings.Contains(joined, "{input}") || !strings.Contains(joined, "{output}") {
			return errors.New("normalize.command must reference both {input} and {output}")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
