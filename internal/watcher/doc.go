// Package watcher wraps a platform filesystem notifier with a fixed
// debounce window, emitting coalesced event batches (deduplicated
// modified and deleted paths, renames decomposed into delete+modify)
// restricted to a mutable set of registered roots.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: polling for environments where fsnotify fails (network mounts, some container filesystems)
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.AddRoot("/path/to/project"); err != nil {
//	    return err
//	}
//
//	go func() {
//	    for batch := range w.Events() {
//	        // batch.Modified, batch.Deleted
//	    }
//	}()
//
//	if err := w.Run(ctx); err != nil {
//	    // ...
//	}
package watcher
