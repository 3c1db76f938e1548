package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "test.go", Operation: OpCreate, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		require.Len(t, batch.Modified, 1)
		assert.Equal(t, "test.go", batch.Modified[0])
		assert.Empty(t, batch.Deleted)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_MultipleEventsForSameFile_Coalesces(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "test.go", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case batch := <-d.Output():
		require.Len(t, batch.Modified, 1)
		assert.Equal(t, "test.go", batch.Modified[0])
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_CreateThenDelete_NoEvent(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "temp.go", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "temp.go", Operation: OpDelete, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no batch, got %+v", batch)
	case <-time.After(200 * time.Millisecond):
		// no batch is correct: the events cancelled each other out
	}
}

func TestDebouncer_ModifyThenDelete_DeleteOnly(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "existing.go", Operation: OpModify, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "existing.go", Operation: OpDelete, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		assert.Empty(t, batch.Modified)
		require.Len(t, batch.Deleted, 1)
		assert.Equal(t, "existing.go", batch.Deleted[0])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_DeleteThenCreate_ModifyEvent(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "replaced.go", Operation: OpDelete, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "replaced.go", Operation: OpCreate, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		require.Len(t, batch.Modified, 1)
		assert.Equal(t, "replaced.go", batch.Modified[0])
		assert.Empty(t, batch.Deleted)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_DifferentFiles_IndependentEvents(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.go", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "b.go", Operation: OpModify, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "c.go", Operation: OpDelete, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		assert.ElementsMatch(t, []string{"a.go", "b.go"}, batch.Modified)
		assert.Equal(t, []string{"c.go"}, batch.Deleted)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_Rename_DecomposesIntoDeleteAndModify(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "new.go", OldPath: "old.go", Operation: OpRename, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		assert.Equal(t, []string{"new.go"}, batch.Modified)
		assert.Equal(t, []string{"old.go"}, batch.Deleted)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_Stop_ClosesOutput(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	d.Stop()

	select {
	case _, ok := <-d.Output():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestDebouncer_CreateThenModify_CreateOnly(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "new.go", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "new.go", Operation: OpModify, Timestamp: time.Now()})

	select {
	case batch := <-d.Output():
		require.Len(t, batch.Modified, 1)
		assert.Equal(t, "new.go", batch.Modified[0])
		assert.Empty(t, batch.Deleted)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for debounced batch")
	}
}
