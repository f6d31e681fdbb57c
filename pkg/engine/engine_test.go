package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuroforge/labmirror/pkg/config"
	"github.com/neuroforge/labmirror/pkg/inventory"
	"github.com/neuroforge/labmirror/pkg/lockfile"
	"github.com/neuroforge/labmirror/pkg/mirror"
	"github.com/neuroforge/labmirror/pkg/session"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(rawRoot string) *config.Config {
	cfg := config.NewDefault()
	cfg.RawRoot = rawRoot
	return cfg
}

// setupProject creates rawRoot/Proj/AnimalA/Session1 with a descriptor
// and two data files, returning the session directory.
func setupProject(t *testing.T, rawRoot string) string {
	t.Helper()
	sessionDir := filepath.Join(rawRoot, "Proj", "AnimalA", "Session1")
	writeFile(t, filepath.Join(sessionDir, "data.bin"), []byte("recorded payload"))
	writeFile(t, filepath.Join(sessionDir, "events.csv"), []byte("t,event\n"))

	md := session.Metadata{Project: "Proj", Animal: "AnimalA", Session: "Session1"}
	if err := session.Save(sessionDir, md); err != nil {
		t.Fatal(err)
	}
	return sessionDir
}

func TestSynchronize(t *testing.T) {
	rawRoot := t.TempDir()
	serverRoot := t.TempDir()
	setupProject(t, rawRoot)

	e := New(testConfig(rawRoot), nil)
	if err := e.Synchronize(context.Background(), "Proj", serverRoot, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	mirrored := filepath.Join(serverRoot, "Proj", "AnimalA", "Session1", "data.bin")
	got, err := os.ReadFile(mirrored)
	if err != nil {
		t.Fatalf("expected mirrored file: %v", err)
	}
	if string(got) != "recorded payload" {
		t.Errorf("mirrored content %q", got)
	}

	// The destination lock is released after the run.
	lockPath := filepath.Join(serverRoot, "Proj", lockfile.LockFileName)
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after synchronization")
	}
}

func TestSynchronize_MissingProject(t *testing.T) {
	e := New(testConfig(t.TempDir()), nil)
	if err := e.Synchronize(context.Background(), "Nope", t.TempDir(), mirror.NopSink); err == nil {
		t.Fatal("expected error for missing source project")
	}
}

func TestSynchronizeAndReconcile(t *testing.T) {
	rawRoot := t.TempDir()
	serverRoot := t.TempDir()
	sessionDir := setupProject(t, rawRoot)

	e := New(testConfig(rawRoot), nil)
	if err := e.SynchronizeAndReconcile(context.Background(), "Proj", serverRoot, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	md, err := session.Load(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(md.FileInventory) != 2 {
		t.Fatalf("expected 2 inventory records, got %d: %+v", len(md.FileInventory), md.FileInventory)
	}

	wantServer := filepath.Join(serverRoot, "Proj", "AnimalA", "Session1")
	for _, rec := range md.FileInventory {
		if rec.ServerPath == "" {
			t.Errorf("record %s has no server path after reconcile", rec.Path)
			continue
		}
		if filepath.Dir(rec.ServerPath) != wantServer {
			t.Errorf("record %s reconciled to %s, want under %s", rec.Path, rec.ServerPath, wantServer)
		}
		if _, err := os.Stat(rec.ServerPath); err != nil {
			t.Errorf("server path %s does not exist: %v", rec.ServerPath, err)
		}
	}
}

func TestReconcileProject_RederivesAfterServerMove(t *testing.T) {
	rawRoot := t.TempDir()
	firstServer := t.TempDir()
	secondServer := t.TempDir()
	sessionDir := setupProject(t, rawRoot)

	e := New(testConfig(rawRoot), nil)
	ctx := context.Background()
	if err := e.SynchronizeAndReconcile(ctx, "Proj", firstServer, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	// The project moves to a different share; a new sync plus reconcile
	// must rewrite every server path, not string-patch the old ones.
	if err := e.SynchronizeAndReconcile(ctx, "Proj", secondServer, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	md, err := session.Load(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := filepath.Join(secondServer, "Proj") + string(filepath.Separator)
	for _, rec := range md.FileInventory {
		if !strings.HasPrefix(rec.ServerPath, wantPrefix) {
			t.Errorf("record %s still points at the old share: %s", rec.Path, rec.ServerPath)
		}
	}
}

func TestReconcileProject_FileMissingOnServer(t *testing.T) {
	rawRoot := t.TempDir()
	serverRoot := t.TempDir()
	sessionDir := setupProject(t, rawRoot)

	e := New(testConfig(rawRoot), nil)
	ctx := context.Background()
	if err := e.SynchronizeAndReconcile(ctx, "Proj", serverRoot, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	// Remove one mirrored file and reconcile again: its record must lose
	// its server path while the other keeps it.
	if err := os.Remove(filepath.Join(serverRoot, "Proj", "AnimalA", "Session1", "events.csv")); err != nil {
		t.Fatal(err)
	}
	if err := e.ReconcileProject(ctx, "Proj", serverRoot); err != nil {
		t.Fatal(err)
	}

	md, err := session.Load(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range md.FileInventory {
		base := filepath.Base(rec.Path)
		if base == "events.csv" && rec.ServerPath != "" {
			t.Errorf("missing server file should clear server path, got %q", rec.ServerPath)
		}
		if base == "data.bin" && rec.ServerPath == "" {
			t.Error("present server file should keep its server path")
		}
	}
}

func TestReconcileProject_NoDescriptors(t *testing.T) {
	rawRoot := t.TempDir()
	writeFile(t, filepath.Join(rawRoot, "Proj", "loose.bin"), []byte("x"))

	e := New(testConfig(rawRoot), nil)
	if err := e.ReconcileProject(context.Background(), "Proj", t.TempDir()); err != nil {
		t.Fatalf("project without descriptors should reconcile to a no-op: %v", err)
	}
}

func TestSynchronize_PreservesExistingInventoryPaths(t *testing.T) {
	rawRoot := t.TempDir()
	serverRoot := t.TempDir()
	sessionDir := setupProject(t, rawRoot)

	// A descriptor that already lists its files keeps that list instead
	// of being rescanned.
	md, err := session.Load(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	md.FileInventory = []inventory.FileRecord{
		{Path: filepath.Join(sessionDir, "data.bin"), SizeBytes: 1},
	}
	if err := session.Save(sessionDir, md); err != nil {
		t.Fatal(err)
	}

	e := New(testConfig(rawRoot), nil)
	if err := e.SynchronizeAndReconcile(context.Background(), "Proj", serverRoot, mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	md, err = session.Load(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(md.FileInventory) != 1 {
		t.Fatalf("existing inventory should not be rescanned, got %d records", len(md.FileInventory))
	}
	if md.FileInventory[0].SizeBytes != 1 {
		t.Errorf("scanner-recorded size was altered during reconcile: %d", md.FileInventory[0].SizeBytes)
	}
	if md.FileInventory[0].ServerPath == "" {
		t.Error("record should gain a server path after reconcile")
	}
}

// progressMetrics records StartProgress/StopProgress calls; everything
// else is a no-op.
type progressMetrics struct {
	mirror.NoopMetrics
	starts int
	stops  int
}

func (m *progressMetrics) StartProgress(msg string, interval time.Duration) { m.starts++ }
func (m *progressMetrics) StopProgress()                                    { m.stops++ }

func TestSynchronize_RunsProgressTicker(t *testing.T) {
	rawRoot := t.TempDir()
	setupProject(t, rawRoot)

	rec := &progressMetrics{}
	e := New(testConfig(rawRoot), rec)
	if err := e.Synchronize(context.Background(), "Proj", t.TempDir(), mirror.NopSink); err != nil {
		t.Fatal(err)
	}

	if rec.starts != 1 || rec.stops != 1 {
		t.Errorf("progress ticker started %d times and stopped %d times, want 1 and 1", rec.starts, rec.stops)
	}
}
