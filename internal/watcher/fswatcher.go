package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher implements Watcher using fsnotify as the primary mechanism,
// with polling as a fallback for platforms where fsnotify fails to
// initialise (network mounts, some container filesystems).
type FSWatcher struct {
	fsw         *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer

	mu      sync.RWMutex
	roots   []string          // absolute paths, in registration order
	rootOf  map[string]string // absolute watched dir -> owning root
	stopped bool

	events chan EventBatch
	errors chan error
	stopCh chan struct{}
}

var _ Watcher = (*FSWatcher)(nil)

// New creates an FSWatcher with the given options.
func New(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()

	w := &FSWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		rootOf:    make(map[string]string),
		events:    make(chan EventBatch, opts.ChannelCapacity),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsw = fsw
		w.useFsnotify = true
	} else {
		w.useFsnotify = false
		w.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return w, nil
}

// AddRoot begins recursive watching of path. Safe to call before or after Run.
func (w *FSWatcher) AddRoot(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if info, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("stat watch root %s: %w", absPath, err)
	} else if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", absPath)
	}

	w.mu.Lock()
	for _, r := range w.roots {
		if r == absPath {
			w.mu.Unlock()
			return nil
		}
	}
	w.roots = append(w.roots, absPath)
	w.mu.Unlock()

	if w.useFsnotify {
		return w.addRecursive(absPath)
	}
	return nil
}

// RemoveRoot stops watching path. Safe to call multiple times.
func (w *FSWatcher) RemoveRoot(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	idx := -1
	for i, r := range w.roots {
		if r == absPath {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)

	if w.useFsnotify {
		for dir, root := range w.rootOf {
			if root == absPath {
				_ = w.fsw.Remove(dir)
				delete(w.rootOf, dir)
			}
		}
	}
	return nil
}

// Roots returns the current watched-roots list.
func (w *FSWatcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.roots))
	copy(out, w.roots)
	return out
}

// Run starts the watch loop. It blocks until ctx is cancelled or Stop is called.
func (w *FSWatcher) Run(ctx context.Context) error {
	go w.forwardDebouncedEvents(ctx)

	if w.useFsnotify {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *FSWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// runPolling falls back to scanning a registered root on an interval.
// PollingWatcher is single-root, and only the first root registered at
// Run time is polled; other roots, and roots added afterwards, are not
// picked up by the polling fallback (fsnotify is assumed available in all
// but degraded environments where a single fallback root is the common
// case).
func (w *FSWatcher) runPolling(ctx context.Context) error {
	w.mu.RLock()
	roots := append([]string(nil), w.roots...)
	w.mu.RUnlock()

	if len(roots) == 0 {
		<-ctx.Done()
		_ = w.Stop()
		return ctx.Err()
	}

	root := roots[0]
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.pollWatcher.Events():
				if !ok {
					return
				}
				if !w.withinRoot(filepath.Join(root, event.Path)) {
					continue
				}
				w.debouncer.Add(event)
			case err, ok := <-w.pollWatcher.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	return w.pollWatcher.Start(ctx, root)
}

// handleFsnotifyEvent converts and filters a raw fsnotify event.
func (w *FSWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	root, relPath, ok := w.resolveRoot(event.Name)
	if !ok {
		return // path fell outside every watched root
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			w.mu.Lock()
			w.rootOf[event.Name] = root
			w.mu.Unlock()
			if err := w.fsw.Add(event.Name); err != nil {
				w.emitError(fmt.Errorf("watch new directory %s: %w", event.Name, err))
			}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports a rename as a single event on the old path;
		// the platform follows with a CREATE on the new path. We only
		// have the old path here, so treat it as a delete — the create
		// side fills in the new path as a separate modified entry.
		op = OpDelete
	case event.Op&fsnotify.Chmod != 0:
		return
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// resolveRoot finds which registered root (if any) contains absPath and
// returns that root plus absPath's path relative to it.
func (w *FSWatcher) resolveRoot(absPath string) (root string, rel string, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, r := range w.roots {
		if r == absPath || strings.HasPrefix(absPath, r+string(filepath.Separator)) {
			relPath, err := filepath.Rel(r, absPath)
			if err != nil {
				continue
			}
			return r, relPath, true
		}
	}
	return "", "", false
}

func (w *FSWatcher) withinRoot(absPath string) bool {
	_, _, ok := w.resolveRoot(absPath)
	return ok
}

// forwardDebouncedEvents forwards debounced batches to the output channel.
func (w *FSWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitBatch(batch)
		}
	}
}

// addRecursive adds root and every non-.git subdirectory beneath it to
// the fsnotify watch set.
func (w *FSWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip entries we can't stat
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" && path != root {
			return filepath.SkipDir
		}

		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch directory %s: %w", path, addErr)
		}
		w.mu.Lock()
		w.rootOf[path] = root
		w.mu.Unlock()
		return nil
	})
}

// emitBatch sends a batch to the output channel. A full channel
// back-pressures the caller per spec.md §4.5 — blocking here is
// intentional, the platform notifier's callback thread is outside the
// cooperative scheduler.
func (w *FSWatcher) emitBatch(batch EventBatch) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.events <- batch:
	case <-w.stopCh:
	}
}

func (w *FSWatcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	w.debouncer.Stop()

	if w.useFsnotify && w.fsw != nil {
		_ = w.fsw.Close()
	}
	if w.pollWatcher != nil {
		_ = w.pollWatcher.Stop()
	}

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of coalesced event batches.
func (w *FSWatcher) Events() <-chan EventBatch {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// WatcherType returns "fsnotify" or "polling", whichever backs this instance.
func (w *FSWatcher) WatcherType() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}
