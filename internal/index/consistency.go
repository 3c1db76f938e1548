package index

import (
	"context"
	"log/slog"
)

// vectorAccelerator is the subset of store.HNSWStore a ConsistencyChecker
// needs. The in-memory accelerator is a secondary, non-transactional copy
// of the chunk vectors already committed to SQLite's chunk_embeddings
// table, so it can drift if a process crashes between a chunk write and
// an accelerator rebuild.
type vectorAccelerator interface {
	Count() int
}

type chunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

// ConsistencyChecker performs a lightweight drift check between the
// authoritative chunk count in the Store and the in-memory HNSW
// accelerator's entry count. It does not reconcile individual rows — a
// mismatch means the accelerator needs rebuilding from a full reindex.
type ConsistencyChecker struct {
	store chunkCounter
	accel vectorAccelerator
}

// NewConsistencyChecker creates a checker over store and its HNSW
// accelerator.
func NewConsistencyChecker(store chunkCounter, accel vectorAccelerator) *ConsistencyChecker {
	return &ConsistencyChecker{store: store, accel: accel}
}

// QuickCheck reports whether the accelerator's entry count matches the
// store's chunk count.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	storeCount, err := c.store.CountChunks(ctx)
	if err != nil {
		return false, err
	}
	accelCount := c.accel.Count()

	consistent := storeCount == accelCount
	if !consistent {
		slog.Debug("vector_accelerator_drift",
			slog.Int("store_chunks", storeCount),
			slog.Int("accelerator_entries", accelCount))
	}
	return consistent, nil
}
