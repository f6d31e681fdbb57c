// Package engine orchestrates a full synchronization: pre-flight checks,
// destination locking, the mirror copy itself, and the post-copy
// reconciliation of every session's file inventory.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neuroforge/labmirror/pkg/config"
	"github.com/neuroforge/labmirror/pkg/inventory"
	"github.com/neuroforge/labmirror/pkg/lockfile"
	"github.com/neuroforge/labmirror/pkg/mirror"
	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/preflight"
	"github.com/neuroforge/labmirror/pkg/session"
	"github.com/neuroforge/labmirror/pkg/util"
)

// appID identifies this tool in lock files it creates.
const appID = "labmirror"

// reconcileWorkers bounds concurrent session descriptor updates. The
// descriptors are tiny, this is about overlapping stat calls on a
// network share, not CPU.
const reconcileWorkers = 4

// progressInterval is how often a running mirror logs a counter summary.
const progressInterval = 10 * time.Second

// Engine runs synchronization operations for one raw-data root.
type Engine struct {
	cfg     *config.Config
	metrics mirror.Metrics
}

// New creates an Engine. metrics may be nil.
func New(cfg *config.Config, metrics mirror.Metrics) *Engine {
	if metrics == nil {
		metrics = &mirror.NoopMetrics{}
	}
	return &Engine{cfg: cfg, metrics: metrics}
}

// SourceProjectDir returns the local directory of a project under the
// raw root.
func (e *Engine) SourceProjectDir(project string) string {
	return filepath.Join(e.cfg.RawRoot, project)
}

// Synchronize mirrors one project to the server root. It validates both
// sides, optionally verifies mount state and free space, locks the
// destination project directory for the duration of the copy, and then
// performs the mirror run. Progress and per-file summary lines go to
// sink.
func (e *Engine) Synchronize(ctx context.Context, project, serverRoot string, sink mirror.LogSink) error {
	srcDir := e.SourceProjectDir(project)

	if err := preflight.CheckSourceAccessible(srcDir); err != nil {
		return err
	}
	if err := preflight.CheckServerRootAccessible(serverRoot); err != nil {
		return err
	}
	if e.cfg.MountCheck {
		if err := preflight.CheckServerRootMounted(serverRoot); err != nil {
			return err
		}
	}
	if err := preflight.CheckServerRootWritable(serverRoot); err != nil {
		return err
	}

	if e.cfg.FreeSpaceCheck {
		pending, err := e.estimatePendingBytes(ctx, srcDir, serverRoot)
		if err != nil {
			return err
		}
		plog.Debug("Estimated pending copy volume", "bytes", util.ByteCountIEC(pending))
		if err := preflight.CheckFreeSpace(serverRoot, pending); err != nil {
			return err
		}
	}

	dstProjectDir := filepath.Join(serverRoot, project)
	if err := os.MkdirAll(dstProjectDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination project directory %s: %w", dstProjectDir, err)
	}

	lock, err := lockfile.Acquire(ctx, dstProjectDir, appID)
	if err != nil {
		return err
	}
	defer lock.Release()

	e.metrics.StartProgress("Mirror progress", progressInterval)
	defer e.metrics.StopProgress()

	m := mirror.New(e.cfg.ChunkSizeBytes(), e.cfg.FailFast, e.metrics)
	return m.Run(ctx, srcDir, serverRoot, sink)
}

// SynchronizeAndReconcile performs a mirror run and then updates every
// session descriptor in the project with the reconciled server-side
// locations of its files.
func (e *Engine) SynchronizeAndReconcile(ctx context.Context, project, serverRoot string, sink mirror.LogSink) error {
	if err := e.Synchronize(ctx, project, serverRoot, sink); err != nil {
		return err
	}
	return e.ReconcileProject(ctx, project, serverRoot)
}

// ReconcileProject walks the project for session directories (any
// directory carrying a session descriptor) and refreshes each
// descriptor's file inventory against the mirrored copy. Sessions
// without an inventory get one scanned from disk first.
func (e *Engine) ReconcileProject(ctx context.Context, project, serverRoot string) error {
	srcDir := e.SourceProjectDir(project)

	sessionDirs, err := findSessionDirs(srcDir)
	if err != nil {
		return err
	}
	if len(sessionDirs) == 0 {
		plog.Info("No session descriptors found, nothing to reconcile", "project", project)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)

	for _, sessionDir := range sessionDirs {
		sessionDir := sessionDir
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.reconcileSession(sessionDir, srcDir, serverRoot, project)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("reconciliation of %s failed: %w", project, err)
	}
	plog.Info("Reconciled session inventories", "project", project, "sessions", len(sessionDirs))
	return nil
}

func (e *Engine) reconcileSession(sessionDir, srcProjectDir, serverRoot, project string) error {
	md, err := session.Load(sessionDir)
	if err != nil {
		return fmt.Errorf("failed to load session descriptor in %s: %w", sessionDir, err)
	}

	if len(md.FileInventory) == 0 {
		records, err := inventory.Scan(sessionDir, session.MetaFileJSON, session.MetaFileYAML)
		if err != nil {
			return err
		}
		md.FileInventory = records
	}

	relKey, err := util.NormalizedRelPath(srcProjectDir, sessionDir)
	if err != nil {
		return err
	}
	sessionServerDir := util.DenormalizedAbsPath(filepath.Join(serverRoot, project), relKey)

	md.FileInventory = inventory.Reconcile(md.FileInventory, sessionDir, sessionServerDir)

	if err := session.Save(sessionDir, md); err != nil {
		return err
	}
	plog.Notice("RECONCILE", "session", relKey, "files", len(md.FileInventory))
	return nil
}

// estimatePendingBytes sums the sizes of the source files the next run
// would actually copy.
func (e *Engine) estimatePendingBytes(ctx context.Context, srcDir, serverRoot string) (int64, error) {
	dstProjectDir := filepath.Join(serverRoot, filepath.Base(filepath.Clean(srcDir)))

	var total int64
	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil // Unreadable entries surface during the run itself.
		}

		relKey, relErr := util.NormalizedRelPath(srcDir, path)
		if relErr != nil {
			return relErr
		}
		if !mirror.NeedsCopy(path, util.DenormalizedAbsPath(dstProjectDir, relKey)) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate pending bytes for %s: %w", srcDir, err)
	}
	return total, nil
}

// findSessionDirs returns every directory under projectDir that carries
// a session descriptor.
func findSessionDirs(projectDir string) ([]string, error) {
	seen := make(map[string]struct{})
	var dirs []string
	err := filepath.WalkDir(projectDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (d.Name() != session.MetaFileJSON && d.Name() != session.MetaFileYAML) {
			return nil
		}
		dir := filepath.Dir(path)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for session descriptors: %w", projectDir, err)
	}
	return dirs, nil
}
