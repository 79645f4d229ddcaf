package normalize

import (
	"context"
	"path/filepath"

	"billingest/internal/config"
)

// PeriodColumn holds the YYYY-MM billing period derived for every row.
const PeriodColumn = "billing_period"

// Normalizer turns one input file into a columnar intermediate and returns
// the intermediate's path.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputDir string) (string, error)
}

// New selects the external command when configured, otherwise the built-in converter.
func New(cfg *config.Config) Normalizer {
	if cfg.UsesExternalNormalizer() {
		return &CommandNormalizer{Command: append([]string(nil), cfg.Normalize.Command...)}
	}
	return &Converter{
		DateColumns: append([]string(nil), cfg.Normalize.DateColumns...),
		CostColumns: append([]string(nil), cfg.Normalize.CostColumns...),
		Compression: cfg.Normalize.Compression,
	}
}

// OutputPath returns where the intermediate for inputPath is written.
func OutputPath(outputDir, inputPath string) string {
	return filepath.Join(outputDir, filepath.Base(inputPath)+".parquet")
}
