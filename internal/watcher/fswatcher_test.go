package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, w *FSWatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return cancel
}

func collectBatch(t *testing.T, w *FSWatcher, timeout time.Duration) EventBatch {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case err := <-w.Errors():
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(timeout):
		t.Fatal("timeout waiting for event batch")
	}
	return EventBatch{}
}

func TestFSWatcher_DetectsFileCreation(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{DebounceWindow: 30 * time.Millisecond, ChannelCapacity: 10}.WithDefaults())
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(dir))
	startWatcher(t, w)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.go"), []byte("package main"), 0o644))

	batch := collectBatch(t, w, time.Second)
	assert.Contains(t, batch.Modified, "new.go")
}

func TestFSWatcher_DetectsFileDeletion(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.go")
	require.NoError(t, os.WriteFile(target, []byte("package main"), 0o644))

	w, err := New(Options{DebounceWindow: 30 * time.Millisecond, ChannelCapacity: 10}.WithDefaults())
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(dir))
	startWatcher(t, w)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Remove(target))

	batch := collectBatch(t, w, time.Second)
	assert.Contains(t, batch.Deleted, "gone.go")
}

func TestFSWatcher_RemoveRoot_StopsReportingThatTree(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	w, err := New(Options{DebounceWindow: 30 * time.Millisecond, ChannelCapacity: 10}.WithDefaults())
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(dirA))
	require.NoError(t, w.AddRoot(dirB))
	startWatcher(t, w)

	require.NoError(t, w.RemoveRoot(dirA))
	assert.Equal(t, []string{dirB}, w.Roots())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "ignored.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "seen.go"), []byte("x"), 0o644))

	batch := collectBatch(t, w, time.Second)
	assert.Contains(t, batch.Modified, "seen.go")
	assert.NotContains(t, batch.Modified, "ignored.go")
}

func TestFSWatcher_AddRoot_Idempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.AddRoot(dir))
	require.NoError(t, w.AddRoot(dir))
	assert.Len(t, w.Roots(), 1)
}

func TestFSWatcher_WatcherType_ReportsFsnotifyWhenAvailable(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, "fsnotify", w.WatcherType())
}
