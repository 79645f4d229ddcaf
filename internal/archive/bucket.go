package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"

	"billingest/internal/services"
)

// BucketArchiver uploads inputs to a blob bucket and removes the local copy.
type BucketArchiver struct {
	bucket *blob.Bucket
	url    string
	prefix string
}

// OpenBucket opens the bucket at url. Keys are prefix + base file name.
func OpenBucket(ctx context.Context, url, prefix string) (*BucketArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open bucket", url, err)
	}
	return &BucketArchiver{bucket: bucket, url: url, prefix: prefix}, nil
}

// Archive uploads srcPath and removes it once the upload is durable.
func (a *BucketArchiver) Archive(ctx context.Context, srcPath string) (Result, error) {
	name := filepath.Base(srcPath)
	key := a.prefix + name
	res := Result{Target: key}

	srcInfo, statErr := os.Stat(srcPath)
	srcExists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return res, services.Wrap(services.ErrArchive, "archive", name, "stat source", statErr)
	}

	attrs, err := a.bucket.Attributes(ctx, key)
	targetExists := err == nil
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return res, services.Wrap(services.ErrArchive, "archive", name, "stat target", err)
	}

	switch {
	case !srcExists && targetExists:
		res.SourceRemoved = true
		return res, nil
	case !srcExists:
		return res, services.Wrap(services.ErrArchive, "archive", name, "source missing", os.ErrNotExist)
	case targetExists:
		res.AlreadyArchived = true
		res.ContentsMatch = attrs.Size == srcInfo.Size()
		if res.ContentsMatch {
			if err := Cleanup(srcPath); err != nil {
				return res, services.Wrap(services.ErrArchive, "archive", name, "remove duplicate source", err)
			}
			res.SourceRemoved = true
		}
		return res, ErrAlreadyArchived
	}

	if err := a.upload(ctx, srcPath, key); err != nil {
		return res, services.Wrap(services.ErrArchive, "archive", name, "upload", err)
	}
	if err := Cleanup(srcPath); err != nil {
		return res, services.Wrap(services.ErrArchive, "archive", name, "remove source after upload", err)
	}
	res.SourceRemoved = true
	return res, nil
}

func (a *BucketArchiver) upload(ctx context.Context, srcPath, key string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := a.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		// Cancelling before Close discards the partial object.
		cancel()
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Accessible reports whether the bucket exists and the credentials can reach it.
func (a *BucketArchiver) Accessible(ctx context.Context) (bool, error) {
	return a.bucket.IsAccessible(ctx)
}

// URL returns the bucket URL this archiver writes to.
func (a *BucketArchiver) URL() string {
	return a.url
}

// Close releases the bucket.
func (a *BucketArchiver) Close() error {
	if a == nil || a.bucket == nil {
		return nil
	}
	return a.bucket.Close()
}
