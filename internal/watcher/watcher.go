package watcher

import (
	"context"
	"time"
)

// Operation represents a file system operation type, as reported by the
// platform notifier before it is coalesced into an EventBatch.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed. Decomposed into
	// delete(OldPath) + modify(Path) by the time it reaches an EventBatch.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one raw, pre-debounce notification from the platform
// watcher.
type FileEvent struct {
	// Path is the path to the file or directory, relative to the root it
	// was observed under.
	Path string

	// OldPath is the previous path for rename events. Empty otherwise.
	OldPath string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// EventBatch is what a Watcher actually emits: a deduplicated view of
// everything that changed during one debounce window. Rename is already
// decomposed — the old path lands in Deleted, the new path in Modified.
type EventBatch struct {
	Modified []string
	Deleted  []string
}

// Watcher wraps a platform filesystem notifier with a fixed debounce
// window and emits coalesced event batches restricted to its registered
// roots. The watched-roots list is mutable and may be changed while the
// watcher is running.
type Watcher interface {
	// AddRoot begins recursive watching of path. Safe to call before or
	// after Run.
	AddRoot(path string) error

	// RemoveRoot stops watching path. Safe to call multiple times.
	RemoveRoot(path string) error

	// Roots returns the current watched-roots list.
	Roots() []string

	// Run starts the watch loop. It blocks until ctx is cancelled or Stop
	// is called.
	Run(ctx context.Context) error

	// Stop stops the watcher and releases resources. Safe to call
	// multiple times.
	Stop() error

	// Events returns the channel of coalesced event batches. The channel
	// is closed when the watcher stops.
	Events() <-chan EventBatch

	// Errors returns the channel of non-fatal watcher errors. The watcher
	// keeps running after sending on this channel. Closed when the
	// watcher stops.
	Errors() <-chan error
}

// Options configures watcher behaviour. Zero values are filled in by
// WithDefaults from the values spec.md names for debounce and
// backpressure.
type Options struct {
	// DebounceWindow collapses events on the same path into one. Default: 500ms.
	DebounceWindow time.Duration

	// ChannelCapacity bounds the Events() channel. Default: 100.
	ChannelCapacity int

	// PollInterval is the scan interval used when the platform notifier
	// is unavailable. Default: 5s.
	PollInterval time.Duration
}

// DefaultOptions returns the watcher defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		ChannelCapacity: 100,
		PollInterval:    5 * time.Second,
	}
}

// WithDefaults returns o with zero-valued fields filled from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.ChannelCapacity == 0 {
		o.ChannelCapacity = defaults.ChannelCapacity
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}
