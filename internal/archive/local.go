package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"billingest/internal/fileutil"
	"billingest/internal/services"
)

// LocalArchiver renames inputs into a directory on the local filesystem.
type LocalArchiver struct {
	dir string
}

// NewLocal creates dir when needed and returns an archiver rooted there.
func NewLocal(dir string) (*LocalArchiver, error) {
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open", "archive_dir is empty", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory %s: %w", dir, err)
	}
	return &LocalArchiver{dir: dir}, nil
}

// Archive moves srcPath into the archive directory under its base name.
func (a *LocalArchiver) Archive(ctx context.Context, srcPath string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	name := filepath.Base(srcPath)
	target := filepath.Join(a.dir, name)
	res := Result{Target: target}

	srcExists, err := exists(srcPath)
	if err != nil {
		return res, services.Wrap(services.ErrArchive, "archive", name, "stat source", err)
	}
	targetExists, err := exists(target)
	if err != nil {
		return res, services.Wrap(services.ErrArchive, "archive", name, "stat target", err)
	}

	switch {
	case !srcExists && targetExists:
		// An earlier run moved it before stopping.
		res.SourceRemoved = true
		return res, nil
	case !srcExists:
		return res, services.Wrap(services.ErrArchive, "archive", name, "source missing", os.ErrNotExist)
	case targetExists:
		res.AlreadyArchived = true
		same, err := fileutil.SameContents(srcPath, target)
		if err != nil {
			return res, services.Wrap(services.ErrArchive, "archive", name, "compare with archived copy", err)
		}
		res.ContentsMatch = same
		if same {
			if err := Cleanup(srcPath); err != nil {
				return res, services.Wrap(services.ErrArchive, "archive", name, "remove duplicate source", err)
			}
			res.SourceRemoved = true
		}
		return res, ErrAlreadyArchived
	}

	if err := os.Rename(srcPath, target); err != nil {
		if !isCrossDevice(err) {
			return res, services.Wrap(services.ErrArchive, "archive", name, "rename", err)
		}
		if err := fileutil.CopyFileVerified(srcPath, target); err != nil {
			return res, services.Wrap(services.ErrArchive, "archive", name, "copy across devices", err)
		}
		if err := Cleanup(srcPath); err != nil {
			return res, services.Wrap(services.ErrArchive, "archive", name, "remove source after copy", err)
		}
	}
	res.SourceRemoved = true
	return res, nil
}

// Close is a no-op for local archives.
func (a *LocalArchiver) Close() error {
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}
