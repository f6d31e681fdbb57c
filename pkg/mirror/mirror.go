// Package mirror copies a project directory tree from a local raw-data
// root to a server root, transferring only files whose size differs from
// their server-side counterpart.
//
// The walk is a single sequential pre-order traversal: parent directories
// are created at the destination before their children's files are
// copied, and for one file all progress lines precede its single summary
// line. Ordering across sibling files follows directory-listing order and
// is not guaranteed.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/util"
)

// Mirror walks a source project directory and reproduces it under a
// server root.
type Mirror struct {
	copier *Copier

	// failFast aborts the run on the first file copy error. When false,
	// per-file errors are collected and the walk continues; the run then
	// fails at the end with a RunError listing every failed path.
	failFast bool

	metrics Metrics
}

// New returns a Mirror using the given chunk size (0 for the default).
// When failFast is true the first file copy error aborts the whole run.
func New(chunkSize int, failFast bool, metrics Metrics) *Mirror {
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Mirror{
		copier:   NewCopier(chunkSize, metrics),
		failFast: failFast,
		metrics:  metrics,
	}
}

// RunError aggregates per-file copy failures from a non-fail-fast run.
type RunError struct {
	// Failures maps the normalized relative path key of each failed file
	// to the error it produced.
	Failures map[string]error
}

// Error implements the error interface for RunError.
func (e *RunError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d files failed to copy:", len(e.Failures))
	for _, p := range paths {
		fmt.Fprintf(&sb, "\n  - path: %s, error: %v", p, e.Failures[p])
	}
	return sb.String()
}

// Run mirrors sourceProjectDir beneath serverRoot.
//
// The destination project directory is serverRoot/basename(sourceProjectDir),
// created if absent. Every subdirectory is created eagerly and
// idempotently before its files are visited. Every regular file is handed
// to the copier; after each file exactly one summary line goes to sink:
// "Copied to server at <rel> @ <rate> MB/s" or "Already on server: <rel>",
// where <rel> is the destination path relative to serverRoot.
//
// A second run over an unchanged source performs zero byte copies and
// emits only "Already on server" lines.
func (m *Mirror) Run(ctx context.Context, sourceProjectDir, serverRoot string, sink LogSink) error {
	if sink == nil {
		sink = NopSink
	}

	projectName := filepath.Base(filepath.Clean(sourceProjectDir))
	dstProjectDir := filepath.Join(serverRoot, projectName)

	if err := os.MkdirAll(dstProjectDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination project directory %s: %w", dstProjectDir, err)
	}

	plog.Info("Mirroring project", "source", sourceProjectDir, "destination", dstProjectDir)

	// Memoize created destination directories so revisits are free. The
	// walk is sequential, a plain map suffices.
	createdDirs := map[string]struct{}{dstProjectDir: {}}
	ensureDir := func(absDir string, perm os.FileMode) error {
		if _, ok := createdDirs[absDir]; ok {
			return nil
		}
		if err := os.MkdirAll(absDir, util.WithUserWritePermission(perm)); err != nil {
			return fmt.Errorf("failed to create destination directory %s: %w", absDir, err)
		}
		createdDirs[absDir] = struct{}{}
		m.metrics.AddDirsCreated(1)
		return nil
	}

	failures := make(map[string]error)

	err := filepath.WalkDir(sourceProjectDir, func(srcPath string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relKey, relErr := util.NormalizedRelPath(sourceProjectDir, srcPath)
		if relErr != nil {
			return relErr
		}

		if err != nil {
			if relKey == "." {
				return fmt.Errorf("source project directory is unreadable: %w", err)
			}
			plog.Warn("SKIP", "reason", "error accessing path", "path", srcPath, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		m.metrics.AddEntriesProcessed(1)

		dstPath := util.DenormalizedAbsPath(dstProjectDir, relKey)

		if d.IsDir() {
			if relKey == "." {
				return nil // Project root already created above.
			}
			info, infoErr := d.Info()
			perm := util.UserWritableDirPerms
			if infoErr == nil {
				perm = info.Mode().Perm()
			}
			if dirErr := ensureDir(dstPath, perm); dirErr != nil {
				return dirErr
			}
			plog.Notice("DIR", "path", relKey)
			return nil
		}

		if !d.Type().IsRegular() {
			plog.Notice("SKIP", "type", d.Type().String(), "path", relKey)
			m.metrics.AddFilesSkipped(1)
			return nil
		}

		dstRel, relErr := util.NormalizedRelPath(serverRoot, dstPath)
		if relErr != nil {
			return relErr
		}

		outcome, copyErr := m.copier.Copy(srcPath, dstPath, sink)
		if copyErr != nil {
			if m.failFast {
				return copyErr
			}
			failures[relKey] = copyErr
			plog.Warn("Copy failed, continuing", "path", relKey, "error", copyErr)
			return nil
		}

		if outcome.Performed {
			sink(fmt.Sprintf("Copied to server at %s @ %.2f MB/s", dstRel, util.MegabytesPerSecond(outcome.BytesPerSec)))
			plog.Notice("COPY", "path", relKey)
		} else {
			sink(fmt.Sprintf("Already on server: %s", dstRel))
			plog.Notice("UPTODATE", "path", relKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror of %s failed: %w", sourceProjectDir, err)
	}

	if len(failures) > 0 {
		return &RunError{Failures: failures}
	}
	return nil
}
