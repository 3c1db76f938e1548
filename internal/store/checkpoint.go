package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// State keys for resumable initial-scan indexing.
const (
	stateKeyCheckpointStage         = "checkpoint_stage"
	stateKeyCheckpointTotal         = "checkpoint_total"
	stateKeyCheckpointEmbedded      = "checkpoint_embedded"
	stateKeyCheckpointTimestamp     = "checkpoint_timestamp"
	stateKeyCheckpointEmbedderModel = "checkpoint_embedder_model"
)

// stageComplete marks a checkpoint as finished; LoadIndexCheckpoint treats
// it the same as no checkpoint at all, since there is nothing left to
// resume.
const stageComplete = "complete"

// IndexCheckpoint is the saved progress of an in-flight initial scan.
// Indexer.InitialScan writes it as it walks and clears it on a clean
// finish; it does not read it back, so an interrupted scan is rerun from
// the top (per-file digests make unchanged files no-ops on the rerun).
type IndexCheckpoint struct {
	Stage         string // "scanning", "chunking", "embedding", "indexing"
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// SaveIndexCheckpoint records the progress of an initial scan, so that
// LoadIndexCheckpoint can later tell a scan that did not finish. Saving stage "complete" is
// equivalent to ClearIndexCheckpoint from the reader's perspective.
func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv := map[string]string{
		stateKeyCheckpointStage:         stage,
		stateKeyCheckpointTotal:         strconv.Itoa(total),
		stateKeyCheckpointEmbedded:      strconv.Itoa(embeddedCount),
		stateKeyCheckpointTimestamp:     strconv.FormatInt(time.Now().Unix(), 10),
		stateKeyCheckpointEmbedderModel: embedderModel,
	}
	for key, value := range kv {
		if err := s.setState(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// LoadIndexCheckpoint returns the saved checkpoint, or nil if none exists
// or the saved stage is "complete".
func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok, err := s.getState(ctx, stateKeyCheckpointStage)
	if err != nil {
		return nil, err
	}
	if !ok || stage == stageComplete {
		return nil, nil
	}

	total, err := s.getStateInt(ctx, stateKeyCheckpointTotal)
	if err != nil {
		return nil, err
	}
	embedded, err := s.getStateInt(ctx, stateKeyCheckpointEmbedded)
	if err != nil {
		return nil, err
	}
	tsRaw, _, err := s.getState(ctx, stateKeyCheckpointTimestamp)
	if err != nil {
		return nil, err
	}
	var ts time.Time
	if tsRaw != "" {
		if secs, err := strconv.ParseInt(tsRaw, 10, 64); err == nil {
			ts = time.Unix(secs, 0)
		}
	}
	model, _, err := s.getState(ctx, stateKeyCheckpointEmbedderModel)
	if err != nil {
		return nil, err
	}

	return &IndexCheckpoint{
		Stage:         stage,
		Total:         total,
		EmbeddedCount: embedded,
		Timestamp:     ts,
		EmbedderModel: model,
	}, nil
}

// ClearIndexCheckpoint removes the saved checkpoint, called once an
// initial scan finishes successfully.
func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{
		stateKeyCheckpointStage,
		stateKeyCheckpointTotal,
		stateKeyCheckpointEmbedded,
		stateKeyCheckpointTimestamp,
		stateKeyCheckpointEmbedderModel,
	} {
		if err := s.deleteState(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// getStateInt reads an integer-valued state key, treating an absent key as
// zero rather than an error.
func (s *SQLiteStore) getStateInt(ctx context.Context, key string) (int, error) {
	raw, ok, err := s.getState(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "parsing state key "+key, err)
	}
	return n, nil
}

// State keys for the embedder/query symmetry marker and the index
// dimension guard. Both are written once, by the first SetEmbedderMarker
// call, and read back by every later SetEmbedderMarker call and by the
// query path, so an embedder of a different dimension is caught before it
// silently writes or searches with mismatched vectors.
const (
	stateKeyEmbedderModel     = "embedder_marker_model"
	stateKeyEmbedderDimension = "embedder_marker_dimension"
)

// EmbedderMarker returns the model name and vector dimension recorded on
// the first vector insert, or ok=false if the store has never written a
// vector.
func (s *SQLiteStore) EmbedderMarker(ctx context.Context) (model string, dimension int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, ok, err = s.getState(ctx, stateKeyEmbedderModel)
	if err != nil || !ok {
		return "", 0, false, err
	}
	dimension, err = s.getStateInt(ctx, stateKeyEmbedderDimension)
	if err != nil {
		return "", 0, false, err
	}
	return model, dimension, true, nil
}

// SetEmbedderMarker records the embedder model and dimension that built
// this store's vectors. Calling it again with a different dimension
// returns a Storage.Vector error naming the expected and actual widths;
// callers use this to refuse to serve a dimension-mismatched store rather
// than silently corrupt search results.
func (s *SQLiteStore) SetEmbedderMarker(ctx context.Context, model string, dimension int) error {
	existingModel, existingDim, ok, err := s.EmbedderMarker(ctx)
	if err != nil {
		return err
	}
	if ok && existingDim != dimension {
		return nellieerrors.New(nellieerrors.KindStorageVector,
			fmt.Sprintf("embedder dimension mismatch: index built with %q (%d dims), current embedder is %q (%d dims)",
				existingModel, existingDim, model, dimension), nil)
	}
	if ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setState(ctx, stateKeyEmbedderModel, model); err != nil {
		return err
	}
	return s.setState(ctx, stateKeyEmbedderDimension, strconv.Itoa(dimension))
}
