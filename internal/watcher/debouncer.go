package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events to prevent index thrashing.
// Events for the same path within the debounce window are merged according
// to these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// At flush time the surviving per-path operation is classified into the
// batch's Modified/Deleted lists; a rename contributes to both.
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan EventBatch
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a new debouncer with the given window duration.
// Events are coalesced within this window before being emitted.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan EventBatch, 10),
		stopCh:  make(chan struct{}),
	}
}

// Add adds an event to be debounced. Events for the same path are
// coalesced according to the coalescing rules.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := event.Path

	if existing, ok := d.pending[path]; ok {
		coalesced := d.coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	d.scheduleFlush()
}

// coalesce merges two events according to the coalescing rules. Returns
// nil if the events cancel each other out.
func (d *Debouncer) coalesce(existing *pendingEvent, new FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch new.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &new
		}

	case OpModify:
		switch new.Operation {
		case OpModify, OpDelete:
			return &new
		default:
			return &new
		}

	case OpDelete:
		switch new.Operation {
		case OpCreate:
			result := new
			result.Operation = OpModify
			return &result
		default:
			return &new
		}

	default:
		return &new
	}
}

// scheduleFlush schedules a flush after the debounce window. Caller holds d.mu.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush classifies pending events into an EventBatch and emits it.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := EventBatch{
		Modified: make([]string, 0, len(d.pending)),
		Deleted:  make([]string, 0),
	}
	for _, pe := range d.pending {
		switch pe.event.Operation {
		case OpDelete:
			batch.Deleted = append(batch.Deleted, pe.event.Path)
		case OpRename:
			if pe.event.OldPath != "" {
				batch.Deleted = append(batch.Deleted, pe.event.OldPath)
			}
			batch.Modified = append(batch.Modified, pe.event.Path)
		default:
			batch.Modified = append(batch.Modified, pe.event.Path)
		}
	}
	d.pending = make(map[string]*pendingEvent)

	if len(batch.Modified) == 0 && len(batch.Deleted) == 0 {
		return
	}

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("modified", len(batch.Modified)),
			slog.Int("deleted", len(batch.Deleted)),
		)
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan EventBatch {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
