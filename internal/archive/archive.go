// Package archive moves fully processed inputs out of the watched directory.
//
// LocalArchiver renames files into a directory; BucketArchiver uploads them
// to any gocloud blob bucket (file://, s3://, gs://). Both treat an existing
// archive target as a collision: the copy in the input directory is removed
// when its contents match, and kept otherwise.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"billingest/internal/config"
	"billingest/internal/services"
)

// ErrAlreadyArchived reports that the archive target existed before the move.
var ErrAlreadyArchived = fmt.Errorf("%w: target already archived", services.ErrArchive)

// Result describes what Archive did.
type Result struct {
	// Target is the archive path or blob key.
	Target string
	// AlreadyArchived is set when the target existed beforehand.
	AlreadyArchived bool
	// SourceRemoved reports whether the input copy is gone after the call.
	SourceRemoved bool
	// ContentsMatch is meaningful only when AlreadyArchived is set.
	ContentsMatch bool
}

// Archiver moves a processed input into long-term storage.
type Archiver interface {
	Archive(ctx context.Context, srcPath string) (Result, error)
	Close() error
}

// New builds the archiver selected by cfg.
func New(ctx context.Context, cfg *config.Config) (Archiver, error) {
	if cfg.ArchiveIsLocal() {
		return NewLocal(cfg.Paths.ArchiveDir)
	}
	return OpenBucket(ctx, cfg.Archive.BucketURL, cfg.Archive.Prefix)
}

// Cleanup removes path, treating a missing file as success.
func Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
