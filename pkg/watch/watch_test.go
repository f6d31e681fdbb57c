package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_TriggersAfterSettle(t *testing.T) {
	dir := t.TempDir()

	triggered := make(chan struct{}, 4)
	w := New(dir, 200*time.Millisecond, func(ctx context.Context) error {
		triggered <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() { watchDone <- w.Watch(ctx) }()

	// Give the watcher time to set up before generating events.
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte("x"), 0o644))

	select {
	case <-triggered:
	case <-time.After(15 * time.Second):
		t.Fatal("trigger did not fire after file change")
	}

	cancel()
	require.ErrorIs(t, <-watchDone, context.Canceled)
}

func TestWatch_PicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()

	triggered := make(chan struct{}, 8)
	w := New(dir, 200*time.Millisecond, func(ctx context.Context) error {
		triggered <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	time.Sleep(500 * time.Millisecond)

	// A new session directory plus a file inside it.
	sessionDir := filepath.Join(dir, "AnimalA", "Session1")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	time.Sleep(time.Second) // Let the new directories be added to the watch.
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "data.bin"), []byte("x"), 0o644))

	select {
	case <-triggered:
	case <-time.After(15 * time.Second):
		t.Fatal("trigger did not fire for file in new directory")
	}
}

func TestWatch_FailedTriggerDoesNotStopWatching(t *testing.T) {
	dir := t.TempDir()

	calls := make(chan struct{}, 8)
	w := New(dir, 200*time.Millisecond, func(ctx context.Context) error {
		calls <- struct{}{}
		return errors.New("copy failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() { watchDone <- w.Watch(ctx) }()

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("x"), 0o644))

	select {
	case <-calls:
	case <-time.After(15 * time.Second):
		t.Fatal("trigger did not fire")
	}

	// The watcher must survive the failure and fire again on new changes.
	select {
	case err := <-watchDone:
		t.Fatalf("watcher exited after trigger failure: %v", err)
	case <-time.After(time.Second):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte("y"), 0o644))
	select {
	case <-calls:
	case <-time.After(15 * time.Second):
		t.Fatal("trigger did not fire after earlier failure")
	}
}

func TestShouldIgnore(t *testing.T) {
	w := New(t.TempDir(), 0, nil)

	require.True(t, w.shouldIgnore("/src/.hidden"))
	require.True(t, w.shouldIgnore("/src/file.swp"))
	require.True(t, w.shouldIgnore("/src/file~"))
	require.True(t, w.shouldIgnore("/src/metadata.json.tmp-123.tmp"))
	require.False(t, w.shouldIgnore("/src/data.bin"))
	require.False(t, w.shouldIgnore("/src/AnimalA"))
}
