// Package watch monitors a source project directory and triggers a new
// mirror run whenever the recorded data changes. Rapid bursts of writes
// (an acquisition system flushing many files) are debounced into a
// single run.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neuroforge/labmirror/pkg/plog"
)

const (
	// tickInterval is how often pending changes are checked.
	tickInterval = 500 * time.Millisecond

	// DefaultSettle is how long the directory must stay quiet after the
	// last change before the trigger fires.
	DefaultSettle = 5 * time.Second
)

// Trigger is invoked after the watched directory has settled. A failing
// trigger is logged and retried on the next change.
type Trigger func(ctx context.Context) error

// Watcher monitors one source project directory.
type Watcher struct {
	dir     string
	settle  time.Duration
	trigger Trigger
	watcher *fsnotify.Watcher
}

// New creates a watcher for dir. settle <= 0 uses DefaultSettle.
func New(dir string, settle time.Duration, trigger Trigger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{dir: dir, settle: settle, trigger: trigger}
}

// Watch blocks until ctx is canceled, firing the trigger after each
// settled batch of changes. Directories created under dir are watched
// recursively as they appear.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.dir); err != nil {
		return fmt.Errorf("watching source dir: %w", err)
	}

	plog.Info("Watching for changes", "dir", w.dir, "settle", w.settle)

	var lastChange time.Time
	dirty := false

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			dirty = true
			lastChange = time.Now()

			// New directories must be added to the watch as they appear,
			// acquisition software creates session folders on the fly.
			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = w.addRecursive(event.Name)
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			plog.Warn("Watcher error", "error", err)

		case <-ticker.C:
			if !dirty || time.Since(lastChange) < w.settle {
				continue
			}
			dirty = false

			plog.Info("Source changed, starting mirror run", "dir", w.dir)
			if err := w.trigger(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				plog.Warn("Triggered run failed", "error", err)
				// Leave dirty unset; the next change retriggers.
			}
		}
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		// Never follow symlinked directories out of the source tree.
		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// shouldIgnore filters out hidden files, editor droppings, and the
// temporary files this tool writes itself.
func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}
