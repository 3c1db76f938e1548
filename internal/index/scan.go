package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// checkpointInterval is how many accepted files pass between
// SaveIndexCheckpoint calls during InitialScan. Per-file digest checks
// already make rescanning cheap, so the checkpoint only needs to be
// coarse enough to tell a caller whether a prior scan ran to completion.
const checkpointInterval = 25

// InitialScan walks root (or the Indexer's own root, if root is empty)
// respecting the Filter's ignore-rules and enqueues an index-request for
// every accepted path. Used at startup for each configured watch root and
// by Reindex when the target is a directory.
//
// Progress is recorded in the store as an IndexCheckpoint. If the process
// is killed mid-scan, the checkpoint is left at a non-"complete" stage;
// the caller's next InitialScan call re-walks root from the top, but every
// already-indexed file is skipped in a single file_state digest lookup,
// so in practice only the unfinished tail of the tree costs real work.
func (ix *Indexer) InitialScan(ctx context.Context, root string) error {
	if root == "" {
		root = ix.root
	}

	if err := ix.store.SaveIndexCheckpoint(ctx, "scanning", 0, 0, ix.embedderModel()); err != nil {
		ix.logger.Warn("checkpoint_save_failed", slog.String("stage", "scanning"), slog.String("error", err.Error()))
	}

	processed := 0
	err := ix.scanDirFunc(ctx, root, func() {
		processed++
		if processed%checkpointInterval != 0 {
			return
		}
		if err := ix.store.SaveIndexCheckpoint(ctx, "indexing", 0, processed, ix.embedderModel()); err != nil {
			ix.logger.Warn("checkpoint_save_failed", slog.String("stage", "indexing"), slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	if err := ix.store.ClearIndexCheckpoint(ctx); err != nil {
		ix.logger.Warn("checkpoint_clear_failed", slog.String("error", err.Error()))
	}
	return nil
}

// Reindex implements the "Explicit reindex" operation: a directory target
// performs an initial scan and indexes every accepted file; a regular-file
// target enqueues a single index-request. Either way file_state's digest
// check still applies, so reindexing unchanged content is cheap.
func (ix *Indexer) Reindex(ctx context.Context, path string) error {
	absPath := path
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(ix.root, path)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat reindex target %s: %w", absPath, err)
	}

	if info.IsDir() {
		return ix.scanDir(ctx, absPath)
	}

	relPath, err := filepath.Rel(ix.root, absPath)
	if err != nil {
		return fmt.Errorf("relativize reindex target %s: %w", absPath, err)
	}
	return ix.EnqueueIndexBypassFilter(ctx, relPath)
}

// scanDir walks dir with a recursive directory iterator, enqueuing every
// path the Filter accepts.
func (ix *Indexer) scanDir(ctx context.Context, dir string) error {
	return ix.scanDirFunc(ctx, dir, func() {})
}

// scanDirFunc is scanDir with an onAccepted callback invoked once per
// enqueued path, used by InitialScan to drive checkpoint progress.
func (ix *Indexer) scanDirFunc(ctx context.Context, dir string, onAccepted func()) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip entries we can't stat
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		ok, _ := ix.filter.Candidate(path, true)
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(ix.root, path)
		if err != nil {
			return nil
		}
		if err := ix.EnqueueIndexBypassFilter(ctx, relPath); err != nil {
			return err
		}
		onAccepted()
		return nil
	})
}
