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

// TestFSWatcher_AddRoot_InvalidPath_ReturnsError tests that watching a
// non-existent path surfaces an error rather than silently doing nothing.
func TestFSWatcher_AddRoot_InvalidPath_ReturnsError(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.AddRoot("/nonexistent/path/that/does/not/exist")
	assert.Error(t, err, "AddRoot should fail for a path that doesn't exist")
}

func TestFSWatcher_Errors_ChannelIsOpen(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.NotNil(t, w.Errors())
}

func TestFSWatcher_Stop_ClosesChannels(t *testing.T) {
	tmpDir := t.TempDir()
	opts := Options{DebounceWindow: 10 * time.Millisecond, ChannelCapacity: 10}.WithDefaults()

	w, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(tmpDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Run(ctx)
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, w.Stop())
	time.Sleep(100 * time.Millisecond)

	// Multiple stops must be safe.
	assert.NoError(t, w.Stop())
}

func TestFSWatcher_ContextCancel_StopsCleanly(t *testing.T) {
	tmpDir := t.TempDir()
	opts := Options{DebounceWindow: 10 * time.Millisecond, ChannelCapacity: 10}.WithDefaults()

	w, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(tmpDir))

	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			t.Logf("Run returned with: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop within timeout after context cancel")
	}
}

func TestFSWatcher_WatchedRootDeleted_HandlesGracefully(t *testing.T) {
	tmpDir := t.TempDir()
	watchDir := filepath.Join(tmpDir, "watched")
	require.NoError(t, os.MkdirAll(watchDir, 0o755))

	opts := Options{DebounceWindow: 10 * time.Millisecond, ChannelCapacity: 10}.WithDefaults()
	w, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(watchDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Run(ctx)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.RemoveAll(watchDir))

	timeout := time.After(1 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			t.Logf("got batch after root deletion: %+v", batch)
		case err := <-w.Errors():
			t.Logf("got error after root deletion: %v", err)
		case <-timeout:
			return
		}
	}
}

func TestPollingWatcher_Start_InvalidPath_ReturnsError(t *testing.T) {
	w := NewPollingWatcher(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Start(ctx, "/nonexistent/path")
	assert.Error(t, err, "Start should fail for non-existent path")
}

func TestDebouncer_Stop_ClosesOutput_ErrorPropagation(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	d.Stop()

	select {
	case _, ok := <-d.Output():
		assert.False(t, ok, "output channel should be closed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFSWatcher_ConcurrentStop_Safe(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(tmpDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			_ = w.Stop()
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent stops didn't complete in time")
		}
	}
}
