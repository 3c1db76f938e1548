// Package index turns file events and scan results into a consistent
// on-disk representation: chunks, their vector companions, and a
// per-path file_state digest that makes reindexing at-most-once.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nellielabs/nellie/internal/chunk"
	"github.com/nellielabs/nellie/internal/embed"
	nerrors "github.com/nellielabs/nellie/internal/errors"
	"github.com/nellielabs/nellie/internal/filter"
	"github.com/nellielabs/nellie/internal/store"
	"github.com/nellielabs/nellie/internal/watcher"
)

// DefaultMaxFileSize bounds how large a file the indexer will read into
// memory. Larger files are skipped, not an error.
const DefaultMaxFileSize = 100 * 1024 * 1024

// DefaultQueueCapacity bounds the index/delete request channels. A full
// channel back-pressures whichever goroutine is enqueuing work, the same
// contract the watcher uses for its own event channel.
const DefaultQueueCapacity = 256

// Config tunes indexer behaviour.
type Config struct {
	MaxFileSize   int64
	QueueCapacity int
}

// DefaultConfig returns the indexer defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   DefaultMaxFileSize,
		QueueCapacity: DefaultQueueCapacity,
	}
}

type indexRequest struct {
	path         string
	bypassFilter bool
}

// Indexer is the consistency-critical component: the sole writer of
// chunks, chunk vectors, and file_state. It is single-task — Run drains
// exactly two request channels from one goroutine, so writes never
// overlap.
type Indexer struct {
	root     string
	store    store.Store
	chunker  chunk.Chunker
	embedder embed.Embedder
	fallback embed.Embedder
	filter   *filter.Filter
	cfg      Config
	logger   *slog.Logger

	indexCh  chan indexRequest
	deleteCh chan string

	closeOnce sync.Once
}

// New creates an Indexer rooted at root. embedder is the primary
// embedder; fallback is used whenever embedder is unavailable (nil or
// Available returns false) — normally the placeholder embedder, per
// spec.md's requirement that the Indexer and Query path share one real
// embedder instance but both tolerate its absence.
func New(root string, st store.Store, chunker chunk.Chunker, embedder, fallback embed.Embedder, flt *filter.Filter, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		root:     root,
		store:    st,
		chunker:  chunker,
		embedder: embedder,
		fallback: fallback,
		filter:   flt,
		cfg:      cfg,
		logger:   logger,
		indexCh:  make(chan indexRequest, cfg.QueueCapacity),
		deleteCh: make(chan string, cfg.QueueCapacity),
	}
}

// Run drains index and delete requests until ctx is cancelled or Close is
// called. It is the Indexer's only writer goroutine.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-ix.indexCh:
			if !ok {
				return nil
			}
			if _, err := ix.indexOne(ctx, req); err != nil {
				ix.logger.Error("index_failed", slog.String("path", req.path), slog.String("error", err.Error()))
			}
		case path, ok := <-ix.deleteCh:
			if !ok {
				return nil
			}
			if err := ix.DeletePath(ctx, path); err != nil {
				ix.logger.Error("delete_failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
}

// Close releases the request channels. Safe to call multiple times.
func (ix *Indexer) Close() {
	ix.closeOnce.Do(func() {
		close(ix.indexCh)
		close(ix.deleteCh)
	})
}

// EnqueueIndex submits relPath for indexing, subject to the Filter's
// candidacy rules — the path for watcher-observed events, which arrive
// unfiltered.
func (ix *Indexer) EnqueueIndex(ctx context.Context, relPath string) error {
	return ix.enqueueIndex(ctx, relPath, false)
}

// EnqueueIndexBypassFilter submits relPath for indexing without a Filter
// check — used for explicit reindex requests and scan results, both of
// which have already been filtered (or represent explicit user intent).
func (ix *Indexer) EnqueueIndexBypassFilter(ctx context.Context, relPath string) error {
	return ix.enqueueIndex(ctx, relPath, true)
}

func (ix *Indexer) enqueueIndex(ctx context.Context, relPath string, bypass bool) error {
	select {
	case ix.indexCh <- indexRequest{path: relPath, bypassFilter: bypass}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueDelete submits relPath for deletion.
func (ix *Indexer) EnqueueDelete(ctx context.Context, relPath string) error {
	select {
	case ix.deleteCh <- relPath:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleBatch enqueues every path in an event batch: deletions first, then
// modifications. If any modified path is a .gitignore file, the Filter's
// cache is invalidated before the batch's other paths are evaluated, since
// a .gitignore edit can change candidacy for siblings and descendants.
func (ix *Indexer) HandleBatch(ctx context.Context, batch watcher.EventBatch) error {
	for _, p := range batch.Modified {
		if filepath.Base(p) == ".gitignore" {
			ix.filter.InvalidateCache()
			break
		}
	}

	for _, p := range batch.Deleted {
		if err := ix.EnqueueDelete(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range batch.Modified {
		if err := ix.EnqueueIndex(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// IndexPathSync runs the index-one-file algorithm synchronously, bypassing
// the request channels. Tests and the initial synchronous reindex path use
// this directly; production traffic flows through EnqueueIndex + Run so
// writes stay single-task.
func (ix *Indexer) IndexPathSync(ctx context.Context, relPath string, bypassFilter bool) (int, error) {
	return ix.indexOne(ctx, indexRequest{path: relPath, bypassFilter: bypassFilter})
}

// indexOne is the central algorithm (spec.md §4.6 "Index one file").
func (ix *Indexer) indexOne(ctx context.Context, req indexRequest) (int, error) {
	absPath := filepath.Join(ix.root, req.path)

	info, err := os.Lstat(absPath)
	if err != nil {
		// Race with a concurrent delete is benign.
		ix.logger.Debug("index_skip_missing", slog.String("path", req.path))
		return 0, nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		ix.logger.Debug("index_skip_symlink", slog.String("path", req.path))
		return 0, nil
	}
	if info.Size() > ix.cfg.MaxFileSize {
		ix.logger.Debug("index_skip_too_large", slog.String("path", req.path), slog.Int64("size", info.Size()))
		return 0, nil
	}

	if !req.bypassFilter {
		ok, _ := ix.filter.Candidate(absPath, true)
		if !ok {
			return 0, nil
		}
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		ix.logger.Debug("index_skip_missing", slog.String("path", req.path))
		return 0, nil
	}
	if isBinaryContent(content) {
		ix.logger.Debug("index_skip_binary", slog.String("path", req.path))
		return 0, nil
	}

	digest := contentDigest(content)

	if existing, err := ix.store.GetFileState(ctx, req.path); err == nil && existing.Digest == digest {
		return 0, nil
	} else if err != nil && nerrors.GetKind(err) != nerrors.KindStorageNotFound {
		return 0, fmt.Errorf("looking up file_state for %s: %w", req.path, err)
	}

	if _, err := ix.store.DeleteChunksByPath(ctx, req.path); err != nil {
		return 0, fmt.Errorf("clearing existing chunks for %s: %w", req.path, err)
	}

	_, lang := ix.filter.Candidate(absPath, false)
	pieces, err := ix.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     req.path,
		Content:  content,
		Language: lang,
	})
	if err != nil {
		return 0, fmt.Errorf("chunking %s: %w", req.path, err)
	}

	if len(pieces) > 0 {
		embeddings, err := ix.embedChunks(ctx, pieces)
		if err != nil {
			return 0, fmt.Errorf("embedding chunks for %s: %w", req.path, err)
		}

		rows := make([]*store.Chunk, len(pieces))
		for i, p := range pieces {
			rows[i] = &store.Chunk{
				FilePath:   p.FilePath,
				ChunkIndex: p.ChunkIndex,
				StartLine:  p.StartLine,
				EndLine:    p.EndLine,
				Content:    p.Content,
				Language:   p.Language,
				FileHash:   digest,
				CreatedAt:  p.CreatedAt,
				Embedding:  embeddings[i],
			}
		}
		if _, err := ix.store.InsertChunks(ctx, rows); err != nil {
			return 0, fmt.Errorf("inserting chunks for %s: %w", req.path, err)
		}
		active := ix.activeEmbedder(ctx)
		if err := ix.store.SetEmbedderMarker(ctx, active.ModelName(), active.Dimensions()); err != nil {
			return 0, fmt.Errorf("recording embedder marker for %s: %w", req.path, err)
		}
	}

	if err := ix.store.UpsertFileState(ctx, &store.FileState{
		Path:      req.path,
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		Digest:    digest,
		IndexedAt: time.Now(),
	}); err != nil {
		return 0, fmt.Errorf("upserting file_state for %s: %w", req.path, err)
	}

	return len(pieces), nil
}

// activeEmbedder resolves which embedder would currently serve a request:
// the primary one, or the fallback if the primary is nil or unavailable.
func (ix *Indexer) activeEmbedder(ctx context.Context) embed.Embedder {
	if ix.embedder != nil && ix.embedder.Available(ctx) {
		return ix.embedder
	}
	return ix.fallback
}

// embedderModel reports the model name of the currently active embedder,
// used to tag checkpoints with the embedder that was active when they
// were saved.
func (ix *Indexer) embedderModel() string {
	return ix.activeEmbedder(context.Background()).ModelName()
}

// embedChunks requests embeddings for every chunk's content in one batch,
// falling back to the placeholder embedder when the primary one is
// unavailable.
func (ix *Indexer) embedChunks(ctx context.Context, pieces []*chunk.Chunk) ([][]float32, error) {
	e := ix.activeEmbedder(ctx)
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	return e.EmbedBatch(ctx, texts)
}

// DeletePath deletes all chunks (and vectors) for relPath and its
// file_state row. Absent rows are not an error.
func (ix *Indexer) DeletePath(ctx context.Context, relPath string) error {
	if _, err := ix.store.DeleteChunksByPath(ctx, relPath); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", relPath, err)
	}
	if err := ix.store.DeleteFileState(ctx, relPath); err != nil && nerrors.GetKind(err) != nerrors.KindStorageNotFound {
		return fmt.Errorf("deleting file_state for %s: %w", relPath, err)
	}
	return nil
}
