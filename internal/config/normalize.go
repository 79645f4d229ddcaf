package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIngest()
	c.normalizeNormalizer()
	c.normalizeArchive()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(c.Paths.InputDir); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.IntermediateDir) == "" {
		c.Paths.IntermediateDir = defaultIntermediateDir
	}
	if c.Paths.IntermediateDir, err = expandPath(c.Paths.IntermediateDir); err != nil {
		return fmt.Errorf("paths.intermediate_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("BILLINGEST_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeIngest() {
	c.Ingest.RescanSchedule = strings.TrimSpace(c.Ingest.RescanSchedule)
	c.Ingest.IncludePatterns = trimList(c.Ingest.IncludePatterns)
	if len(c.Ingest.IncludePatterns) == 0 {
		c.Ingest.IncludePatterns = append([]string(nil), defaultIncludePatterns...)
	}
}

func (c *Config) normalizeNormalizer() {
	c.Normalize.Command = trimList(c.Normalize.Command)
	c.Normalize.DateColumns = trimList(c.Normalize.DateColumns)
	if len(c.Normalize.DateColumns) == 0 {
		c.Normalize.DateColumns = append([]string(nil), defaultDateColumns...)
	}
	c.Normalize.CostColumns = trimList(c.Normalize.CostColumns)
	c.Normalize.Compression = strings.ToLower(strings.TrimSpace(c.Normalize.Compression))
	if c.Normalize.Compression == "" {
		c.Normalize.Compression = defaultCompression
	}
}

func (c *Config) normalizeArchive() {
	c.Archive.BucketURL = strings.TrimSpace(c.Archive.BucketURL)
	if c.Archive.BucketURL == "" {
		if value, ok := os.LookupEnv("BILLINGEST_ARCHIVE_URL"); ok {
			c.Archive.BucketURL = strings.TrimSpace(value)
		}
	}
	c.Archive.Prefix = strings.TrimLeft(strings.TrimSpace(c.Archive.Prefix), "/")
	if c.Archive.Prefix != "" && !strings.HasSuffix(c.Archive.Prefix, "/") {
		c.Archive.Prefix += "/"
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("BILLINGEST_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimList(values []string) []string {
	out := values[:0]
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
