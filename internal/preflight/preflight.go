package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"billingest/internal/archive"
	"billingest/internal/config"
	"billingest/internal/deps"
)

const bucketProbeTimeout = 10 * time.Second

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Input directory", cfg.Paths.InputDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Intermediate directory", cfg.Paths.IntermediateDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.ArchiveIsLocal() {
		results = append(results, CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir))
	} else {
		results = append(results, CheckBucket(ctx, cfg.Archive.BucketURL))
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		result := Result{Name: "Dependency " + status.Name, Passed: status.Available || status.Optional}
		if status.Available {
			result.Detail = fmt.Sprintf("%s (found)", status.Command)
		} else {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBucket opens the archive bucket and confirms it is reachable.
func CheckBucket(ctx context.Context, url string) Result {
	const name = "Archive bucket"
	ctx, cancel := context.WithTimeout(ctx, bucketProbeTimeout)
	defer cancel()

	bucket, err := archive.OpenBucket(ctx, url, "")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", url, err)}
	}
	defer bucket.Close()

	ok, err := bucket.Accessible(ctx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", url, err)}
	case !ok:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: bucket not accessible)", url)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", url)}
	}
}
