package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	InputDir        string `toml:"input_dir"`
	OutputDir       string `toml:"output_dir"`
	ArchiveDir      string `toml:"archive_dir"`
	IntermediateDir string `toml:"intermediate_dir"`
	StateDir        string `toml:"state_dir"`
	LogDir          string `toml:"log_dir"`
	APIBind         string `toml:"api_bind"`
	APIToken        string `toml:"api_token"`
}

// Ingest contains scheduler and worker pool settings.
type Ingest struct {
	Workers                  int      `toml:"workers"`
	QueueSize                int      `toml:"queue_size"`
	NormalizeTimeout         int      `toml:"normalize_timeout"`
	SettleSeconds            int      `toml:"settle_seconds"`
	DispatchBackoffInitialMS int      `toml:"dispatch_backoff_initial_ms"`
	DispatchBackoffMaxMS     int      `toml:"dispatch_backoff_max_ms"`
	RescanSchedule           string   `toml:"rescan_schedule"`
	IncludePatterns          []string `toml:"include_patterns"`
	IntermediateMaxAgeHours  int      `toml:"intermediate_max_age_hours"`
}

// Normalize contains settings for the CSV normalize collaborator.
type Normalize struct {
	// Command runs an external converter instead of the built-in one. The
	// {input} and {output} placeholders are substituted per file.
	Command     []string `toml:"command"`
	DateColumns []string `toml:"date_columns"`
	CostColumns []string `toml:"cost_columns"`
	Compression string   `toml:"compression"`
}

// Archive selects where processed inputs are moved.
type Archive struct {
	BucketURL string `toml:"bucket_url"`
	Prefix    string `toml:"prefix"`
}

// Notifications configures ntfy alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for billingest.
//
// Configuration sections by subsystem:
//   - Paths: watched input, datasets, archive, intermediates, state and logs
//   - Ingest: worker pool, dispatch queue, timeouts and rescans
//   - Normalize: converter selection and column handling
//   - Archive: local directory or blob bucket
//   - Notifications: ntfy alerts for known-bad files and failures
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Ingest        Ingest        `toml:"ingest"`
	Normalize     Normalize     `toml:"normalize"`
	Archive       Archive       `toml:"archive"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.InputDir,
		c.Paths.OutputDir,
		c.Paths.IntermediateDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
	}
	if c.ArchiveIsLocal() {
		dirs = append(dirs, c.Paths.ArchiveDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, DatabaseFileName)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "billingestd.lock")
}

// PIDPath returns the file billingestd writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "billingestd.pid")
}

// ArchiveIsLocal reports whether processed inputs are moved into ArchiveDir
// rather than uploaded to a bucket.
func (c *Config) ArchiveIsLocal() bool {
	return strings.TrimSpace(c.Archive.BucketURL) == ""
}

// UsesExternalNormalizer reports whether an external converter command is configured.
func (c *Config) UsesExternalNormalizer() bool {
	return len(c.Normalize.Command) > 0
}
