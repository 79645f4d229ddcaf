package testsupport

import (
	"path/filepath"
	"testing"

	"billingest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "input")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfgVal.Paths.IntermediateDir = filepath.Join(base, "intermediate")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Ingest.Workers = 2
	cfgVal.Ingest.QueueSize = 4
	cfgVal.Ingest.SettleSeconds = 0
	cfgVal.Ingest.DispatchBackoffInitialMS = 1
	cfgVal.Ingest.DispatchBackoffMaxMS = 10
	cfgVal.Ingest.RescanSchedule = ""
	cfgVal.Normalize.DateColumns = []string{"Date", "UsageDate"}
	cfgVal.Normalize.CostColumns = []string{"Cost"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.Workers = n
	}
}

// WithQueueSize sets the dispatch queue capacity.
func WithQueueSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.QueueSize = n
	}
}

// WithNormalizeTimeout sets the normalize timeout in seconds.
func WithNormalizeTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.NormalizeTimeout = seconds
	}
}

// WithBucketArchive points the archive at a file:// bucket under the temp dir.
func WithBucketArchive() ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "bucket")
		b.cfg.Archive.BucketURL = "file://" + filepath.ToSlash(dir) + "?create_dir=true"
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
