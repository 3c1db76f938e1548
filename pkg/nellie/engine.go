// Package nellie wires every internal component into one runnable unit:
// the thing an external CLI or HTTP front-end imports instead of reaching
// into internal/* directly.
package nellie

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nellielabs/nellie/internal/async"
	"github.com/nellielabs/nellie/internal/chunk"
	"github.com/nellielabs/nellie/internal/config"
	"github.com/nellielabs/nellie/internal/dispatch"
	"github.com/nellielabs/nellie/internal/embed"
	"github.com/nellielabs/nellie/internal/filter"
	"github.com/nellielabs/nellie/internal/index"
	"github.com/nellielabs/nellie/internal/logging"
	"github.com/nellielabs/nellie/internal/query"
	"github.com/nellielabs/nellie/internal/store"
	"github.com/nellielabs/nellie/internal/telemetry"
	"github.com/nellielabs/nellie/internal/watcher"
	"github.com/nellielabs/nellie/pkg/version"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight indexing to
// drain before it gives up and returns anyway.
const shutdownTimeout = 30 * time.Second

// Engine owns every component of a running Nellie instance: the store,
// the embedder, the chunker, the filter, the watcher, the indexer, the
// query engine, and the tool dispatcher. Dispatch is the only surface an
// embedder needs to call; everything else here is construction and
// lifecycle plumbing.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	root string

	store    *store.SQLiteStore
	filter   *filter.Filter
	chunker  *chunk.LineChunker
	embedder embed.Embedder
	fallback embed.Embedder

	indexer *index.Indexer
	query   *query.Engine

	// Dispatch is the external tool surface: one (ctx, name, args) ->
	// Response entry point per spec.md's tool catalogue.
	Dispatch *dispatch.Dispatcher

	accel       *store.HNSWStore
	consistency *index.ConsistencyChecker

	watcher     watcher.Watcher
	bgInitial   *async.BackgroundIndexer
	queryMetric *telemetry.QueryMetrics
	promMetric  *telemetry.PrometheusMetrics

	loggerCleanup func()

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New constructs an Engine from a loaded Config but does not start it —
// call Run to begin watching/indexing. A zero-value cfg.WatchDirs means
// the engine indexes nothing until AddRoot-equivalent configuration is
// supplied by a future reload; this mirrors spec.md's "no watch_dirs
// configured" edge case.
func New(cfg *config.Config) (*Engine, error) {
	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	root := "."
	if len(cfg.WatchDirs) > 0 {
		root = cfg.WatchDirs[0]
	}
	if len(cfg.WatchDirs) > 1 {
		logger.Warn("multiple_watch_dirs_not_supported",
			slog.String("using", root),
			slog.Int("configured", len(cfg.WatchDirs)))
	}

	dbPath := ""
	if cfg.DataDir != "" {
		dbPath = cfg.DataDir + "/nellie.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	flt, err := filter.New(root, cfg.Filter)
	if err != nil {
		st.Close()
		cleanup()
		return nil, fmt.Errorf("building filter: %w", err)
	}

	chunker := chunk.New(cfg.Chunker)

	embedder, err := embed.NewFromConfig(context.Background(), cfg.DataDir, cfg.EmbeddingThreads, cfg.EnableEmbeddings)
	if err != nil {
		chunker.Close()
		st.Close()
		cleanup()
		return nil, fmt.Errorf("constructing embedder: %w", err)
	}
	fallback := embed.NewStaticEmbedder()

	idx := index.New(root, st, chunker, embedder, fallback, flt, index.DefaultConfig(), logger)
	qe := query.New(st, embedder, fallback, cfg.Search)

	queryMetricsStore, err := telemetry.NewSQLiteMetricsStore(st.DB())
	if err != nil {
		idx.Close()
		chunker.Close()
		st.Close()
		cleanup()
		return nil, fmt.Errorf("constructing query metrics store: %w", err)
	}
	if err := telemetry.InitSchema(st.DB()); err != nil {
		idx.Close()
		chunker.Close()
		st.Close()
		cleanup()
		return nil, fmt.Errorf("initializing telemetry schema: %w", err)
	}
	queryMetrics := telemetry.NewQueryMetrics(queryMetricsStore)
	promMetrics := telemetry.NewPrometheusMetrics()

	disp := dispatch.New(st, idx, qe, embedder, fallback, version.Version, cfg.EnableEmbeddings, queryMetrics, promMetrics)

	accel, err := store.NewHNSWStore(store.DefaultVectorStoreConfig())
	if err != nil {
		idx.Close()
		chunker.Close()
		st.Close()
		cleanup()
		return nil, fmt.Errorf("constructing vector accelerator: %w", err)
	}
	// TODO: warm accel from existing chunk rows at startup. Store has no
	// bulk chunk-enumeration method (a GetAllChunks-style export) yet, so
	// a restart always starts the accelerator empty; ConsistencyChecker
	// will correctly report drift against a non-empty store until then.
	consistency := index.NewConsistencyChecker(st, accel)

	watchOpts := watcher.DefaultOptions()
	watchOpts.DebounceWindow = time.Duration(cfg.Watcher.DebounceMillis) * time.Millisecond
	watchOpts.ChannelCapacity = cfg.Watcher.ChannelCapacity
	w, err := watcher.New(watchOpts)
	if err != nil {
		idx.Close()
		chunker.Close()
		st.Close()
		cleanup()
		return nil, fmt.Errorf("constructing watcher: %w", err)
	}

	bg := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: cfg.DataDir})

	return &Engine{
		cfg:           cfg,
		logger:        logger,
		root:          root,
		store:         st,
		filter:        flt,
		chunker:       chunker,
		embedder:      embedder,
		fallback:      fallback,
		indexer:       idx,
		query:         qe,
		Dispatch:      disp,
		accel:         accel,
		consistency:   consistency,
		watcher:       w,
		bgInitial:     bg,
		queryMetric:   queryMetrics,
		promMetric:    promMetrics,
		loggerCleanup: cleanup,
	}, nil
}

// Run starts the indexer loop, the filesystem watcher, and an initial
// scan of root, then blocks until ctx is cancelled. Callers normally run
// this in its own goroutine and cancel ctx on SIGINT/SIGTERM, then call
// Shutdown to drain in-flight work.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.watcher.AddRoot(e.root); err != nil {
		return fmt.Errorf("watching root %s: %w", e.root, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.indexer.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("indexer_run_failed", slog.String("error", err.Error()))
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.watcher.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("watcher_run_failed", slog.String("error", err.Error()))
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pumpEvents(ctx)
	}()

	e.bgInitial.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageScanning, 0)
		if err := e.indexer.InitialScan(ctx, e.root); err != nil {
			progress.SetError(err.Error())
			return err
		}
		progress.SetReady()
		return nil
	}
	e.bgInitial.Start(ctx)

	<-ctx.Done()
	return ctx.Err()
}

// pumpEvents forwards the watcher's coalesced batches into the indexer
// until ctx is cancelled or the watcher's Events channel closes.
func (e *Engine) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			if err := e.indexer.HandleBatch(ctx, batch); err != nil {
				e.logger.Error("handle_batch_failed", slog.String("error", err.Error()))
			}
		case err, ok := <-e.watcher.Errors():
			if !ok {
				continue
			}
			e.logger.Error("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops new work, drains in-flight indexing up to shutdownTimeout,
// then closes the store. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var shutdownErr error
	e.stopOnce.Do(func() {
		e.bgInitial.Stop()
		if err := e.watcher.Stop(); err != nil {
			e.logger.Warn("watcher_stop_failed", slog.String("error", err.Error()))
		}
		e.indexer.Close()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			e.logger.Warn("shutdown_timeout_exceeded", slog.Duration("timeout", shutdownTimeout))
		case <-ctx.Done():
		}

		if err := e.accel.Close(); err != nil {
			e.logger.Warn("accelerator_close_failed", slog.String("error", err.Error()))
		}
		if err := e.store.Close(); err != nil {
			shutdownErr = fmt.Errorf("closing store: %w", err)
		}
		e.chunker.Close()
		if e.loggerCleanup != nil {
			e.loggerCleanup()
		}
	})
	return shutdownErr
}

// ConsistencyCheck reports whether the in-memory vector accelerator is in
// sync with the store's chunk count. See the TODO in New about why a
// freshly restarted Engine always reports drift against a non-empty
// store.
func (e *Engine) ConsistencyCheck(ctx context.Context) (bool, error) {
	return e.consistency.QuickCheck(ctx)
}

// Metrics returns the Prometheus registry backing this Engine's metrics
// endpoint, for a front-end to mount under its own HTTP mux.
func (e *Engine) Metrics() *telemetry.PrometheusMetrics {
	return e.promMetric
}
