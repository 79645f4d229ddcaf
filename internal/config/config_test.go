package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"billingest/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("BILLINGEST_ARCHIVE_URL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantInput := filepath.Join(tempHome, "billing", "input")
	if cfg.Paths.InputDir != wantInput {
		t.Fatalf("unexpected input dir: got %q want %q", cfg.Paths.InputDir, wantInput)
	}
	wantState := filepath.Join(tempHome, ".local", "share", "billingest")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "processed_files.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Ingest.Workers != config.Default().Ingest.Workers {
		t.Fatalf("unexpected worker count: %d", cfg.Ingest.Workers)
	}
	if !cfg.ArchiveIsLocal() {
		t.Fatal("expected local archive by default")
	}
	if cfg.UsesExternalNormalizer() {
		t.Fatal("expected built-in normalizer by default")
	}
	if len(cfg.Ingest.IncludePatterns) != 3 {
		t.Fatalf("unexpected include patterns: %v", cfg.Ingest.IncludePatterns)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.InputDir, cfg.Paths.OutputDir, cfg.Paths.ArchiveDir, cfg.Paths.IntermediateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "billingest.toml")

	type payload struct {
		Paths struct {
			InputDir string `toml:"input_dir"`
		} `toml:"paths"`
		Ingest struct {
			Workers   int `toml:"workers"`
			QueueSize int `toml:"queue_size"`
		} `toml:"ingest"`
		Normalize struct {
			Compression string `toml:"compression"`
		} `toml:"normalize"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.InputDir = filepath.Join(tempDir, "drop")
	custom.Ingest.Workers = 8
	custom.Ingest.QueueSize = 3
	custom.Normalize.Compression = " Snappy "
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.InputDir != filepath.Join(tempDir, "drop") {
		t.Fatalf("expected input dir from file, got %q", cfg.Paths.InputDir)
	}
	if cfg.Ingest.Workers != 8 || cfg.Ingest.QueueSize != 3 {
		t.Fatalf("unexpected ingest settings: %+v", cfg.Ingest)
	}
	if cfg.Normalize.Compression != "snappy" {
		t.Fatalf("expected normalized compression, got %q", cfg.Normalize.Compression)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
}

func TestEnvFileBesideConfigProvidesFallbacks(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "billingest.toml")
	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envBody := "BILLINGEST_ARCHIVE_URL=file:///tmp/archive-bucket\nBILLINGEST_API_TOKEN=secret\n"
	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte(envBody), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// Registered so t.Setenv restores the variables after godotenv sets them.
	t.Setenv("BILLINGEST_ARCHIVE_URL", "")
	t.Setenv("BILLINGEST_API_TOKEN", "")
	os.Unsetenv("BILLINGEST_ARCHIVE_URL")
	os.Unsetenv("BILLINGEST_API_TOKEN")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Archive.BucketURL != "file:///tmp/archive-bucket" {
		t.Fatalf("expected bucket url from .env, got %q", cfg.Archive.BucketURL)
	}
	if cfg.ArchiveIsLocal() {
		t.Fatal("expected bucket archive when bucket_url is set")
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected api token from .env, got %q", cfg.Paths.APIToken)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "billingest.toml")
	if err := os.WriteFile(configPath, []byte("[ingest]\nworkerz = 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.WriteSample(path, false); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path, false); !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists on second write, got %v", err)
	}
	if err := config.WriteSample(path, true); err != nil {
		t.Fatalf("WriteSample with overwrite failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "input_dir") {
		t.Fatalf("sample config missing input_dir: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Ingest.Workers != config.Default().Ingest.Workers {
		t.Fatalf("sample workers drifted from defaults: %d", cfg.Ingest.Workers)
	}
	if !strings.Contains(cfg.Paths.StateDir, "billingest") {
		t.Fatalf("expected state dir to contain billingest, got %q", cfg.Paths.StateDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Ingest.Workers = 0 }},
		{"zero queue", func(c *config.Config) { c.Ingest.QueueSize = 0 }},
		{"zero timeout", func(c *config.Config) { c.Ingest.NormalizeTimeout = 0 }},
		{"backoff inverted", func(c *config.Config) { c.Ingest.DispatchBackoffInitialMS = 5000 }},
		{"negative settle", func(c *config.Config) { c.Ingest.SettleSeconds = -1 }},
		{"bad pattern", func(c *config.Config) { c.Ingest.IncludePatterns = []string{"[.csv"} }},
		{"bad compression", func(c *config.Config) { c.Normalize.Compression = "lzma" }},
		{"command without placeholders", func(c *config.Config) { c.Normalize.Command = []string{"convert", "{input}"} }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"archive equals input", func(c *config.Config) { c.Paths.ArchiveDir = c.Paths.InputDir }},
		{"output equals input", func(c *config.Config) { c.Paths.OutputDir = c.Paths.InputDir }},
		{"missing input", func(c *config.Config) { c.Paths.InputDir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
