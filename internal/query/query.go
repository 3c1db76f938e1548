// Package query answers search_chunks, search_lessons, and
// search_checkpoints by embedding query text and delegating the vector
// search + post-filter work to the store.
package query

import (
	"context"
	"fmt"

	"github.com/nellielabs/nellie/internal/config"
	nellieerrors "github.com/nellielabs/nellie/internal/errors"
	"github.com/nellielabs/nellie/internal/store"
)

// textEmbedder is the subset of embed.Embedder the query path needs. It
// is declared locally (rather than importing internal/embed's interface
// directly) only to keep this package's dependency surface explicit;
// any embed.Embedder satisfies it.
type textEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available(ctx context.Context) bool
	ModelName() string
}

// searchStore is the subset of store.Store the query path reads from.
// Declared locally so tests can exercise Engine against a narrow fake
// instead of implementing every Store method.
type searchStore interface {
	SearchChunks(ctx context.Context, queryEmbedding []float32, filter store.ChunkFilter) ([]*store.SearchResult, error)
	SearchLessons(ctx context.Context, queryEmbedding []float32, filter store.LessonFilter) ([]*store.SearchResult, error)
	SearchLessonsByText(ctx context.Context, query string, filter store.LessonFilter) ([]*store.SearchResult, error)
	SearchLessonsByTag(ctx context.Context, tag string, filter store.LessonFilter) ([]*store.SearchResult, error)
	SearchCheckpoints(ctx context.Context, queryEmbedding []float32, filter store.CheckpointFilter) ([]*store.SearchResult, error)
	EmbedderMarker(ctx context.Context) (model string, dimension int, ok bool, err error)
}

// ChunkOptions narrows a search_chunks call. Zero values fall back to
// Engine's configured defaults.
type ChunkOptions struct {
	Limit       int
	MinScore    float64
	Language    string
	PathPattern string
}

// LessonOptions narrows a search_lessons/list_lessons call.
type LessonOptions struct {
	Limit    int
	MinScore float64
	Severity store.Severity
}

// CheckpointOptions narrows a search_checkpoints call.
type CheckpointOptions struct {
	Limit    int
	MinScore float64
}

// Engine is the query path: one embedder (with its own placeholder
// fallback) shared with the Indexer, and the Store it searches against.
// spec.md calls a mismatch between the Indexer's and the Query path's
// embedder instance the leading historical bug class, so both must be
// constructed from the same embed.Embedder value.
type Engine struct {
	store    searchStore
	embedder textEmbedder
	fallback textEmbedder
	defaults config.SearchConfig
}

// New creates an Engine. embedder is the primary embedder; fallback
// (normally the placeholder embedder) is used whenever embedder is nil or
// reports itself unavailable.
func New(st searchStore, embedder, fallback textEmbedder, defaults config.SearchConfig) *Engine {
	return &Engine{store: st, embedder: embedder, fallback: fallback, defaults: defaults}
}

// embed produces the query vector and checks it against the store's
// embedder marker (model name and dimension), which the indexer records on
// first insert. A mismatch here means the index was built by a different
// embedder than the one answering this query, which would otherwise
// silently return zero-distance garbage rather than a clear error.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	emb := e.embedder
	if emb == nil || !emb.Available(ctx) {
		emb = e.fallback
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if model, dim, ok, err := e.store.EmbedderMarker(ctx); err == nil && ok && (dim != len(vec) || model != emb.ModelName()) {
		return nil, nellieerrors.New(nellieerrors.KindStorageVector,
			fmt.Sprintf("query embedder %q produces %d-dim vectors but the index was built by %q with %d dims",
				emb.ModelName(), len(vec), model, dim), nil)
	}
	return vec, nil
}

// available reports whether a real (non-fallback) embedder is ready.
func (e *Engine) available(ctx context.Context) bool {
	return e.embedder != nil && e.embedder.Available(ctx)
}

func (e *Engine) limitOrDefault(limit int) int {
	if limit > 0 {
		return limit
	}
	if e.defaults.DefaultLimit > 0 {
		return e.defaults.DefaultLimit
	}
	return 10
}

func (e *Engine) minScoreOrDefault(minScore float64, set bool) float64 {
	if set {
		return minScore
	}
	return e.defaults.DefaultMinScore
}

// SearchChunks embeds query_text and returns matching chunks ordered by
// descending score, subject to opts.
func (e *Engine) SearchChunks(ctx context.Context, queryText string, opts ChunkOptions) ([]*store.SearchResult, error) {
	vec, err := e.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return e.store.SearchChunks(ctx, vec, store.ChunkFilter{
		Limit:       e.limitOrDefault(opts.Limit),
		MinScore:    e.minScoreOrDefault(opts.MinScore, true),
		Language:    opts.Language,
		PathPattern: opts.PathPattern,
	})
}

// SearchLessons embeds query_text and returns matching lessons. When no
// real embedder is available, it falls back to the store's text search
// over title and content (the lesson text index, or a LIKE scan when that
// index is unavailable) rather than return garbage-vector results.
func (e *Engine) SearchLessons(ctx context.Context, queryText string, opts LessonOptions) ([]*store.SearchResult, error) {
	filter := store.LessonFilter{
		Limit:    e.limitOrDefault(opts.Limit),
		MinScore: e.minScoreOrDefault(opts.MinScore, true),
		Severity: opts.Severity,
	}
	if !e.available(ctx) {
		return e.store.SearchLessonsByText(ctx, queryText, filter)
	}
	vec, err := e.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return e.store.SearchLessons(ctx, vec, filter)
}

// SearchLessonsByTag returns lessons tagged with tag, using the store's
// tag search (the lesson text index, or a whole-tag LIKE match over the
// comma-joined tags column when that index is unavailable).
func (e *Engine) SearchLessonsByTag(ctx context.Context, tag string, opts LessonOptions) ([]*store.SearchResult, error) {
	return e.store.SearchLessonsByTag(ctx, tag, store.LessonFilter{
		Limit:    e.limitOrDefault(opts.Limit),
		MinScore: e.minScoreOrDefault(opts.MinScore, true),
		Severity: opts.Severity,
	})
}

// SearchCheckpoints embeds query_text and returns matching checkpoints.
func (e *Engine) SearchCheckpoints(ctx context.Context, queryText string, opts CheckpointOptions) ([]*store.SearchResult, error) {
	vec, err := e.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return e.store.SearchCheckpoints(ctx, vec, store.CheckpointFilter{
		Limit:    e.limitOrDefault(opts.Limit),
		MinScore: e.minScoreOrDefault(opts.MinScore, true),
	})
}
