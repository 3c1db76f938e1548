package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_IndexCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("no checkpoint returns nil", func(t *testing.T) {
		cp, err := s.LoadIndexCheckpoint(ctx)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("save and load checkpoint", func(t *testing.T) {
		require.NoError(t, s.SaveIndexCheckpoint(ctx, "embedding", 100, 50, "nellie-static-v1"))

		cp, err := s.LoadIndexCheckpoint(ctx)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "embedding", cp.Stage)
		assert.Equal(t, 100, cp.Total)
		assert.Equal(t, 50, cp.EmbeddedCount)
		assert.Equal(t, "nellie-static-v1", cp.EmbedderModel)
		assert.False(t, cp.Timestamp.IsZero())
	})

	t.Run("update checkpoint", func(t *testing.T) {
		require.NoError(t, s.SaveIndexCheckpoint(ctx, "embedding", 100, 75, "nellie-static-v1"))

		cp, err := s.LoadIndexCheckpoint(ctx)
		require.NoError(t, err)
		assert.Equal(t, 75, cp.EmbeddedCount)
	})

	t.Run("complete stage returns nil", func(t *testing.T) {
		require.NoError(t, s.SaveIndexCheckpoint(ctx, "complete", 100, 100, "nellie-static-v1"))

		cp, err := s.LoadIndexCheckpoint(ctx)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("clear checkpoint", func(t *testing.T) {
		require.NoError(t, s.SaveIndexCheckpoint(ctx, "scanning", 0, 0, "nellie-static-v1"))
		require.NoError(t, s.ClearIndexCheckpoint(ctx))

		cp, err := s.LoadIndexCheckpoint(ctx)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})
}

func TestSQLiteStore_EmbedderMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("absent marker", func(t *testing.T) {
		_, _, ok, err := s.EmbedderMarker(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("first write records the marker", func(t *testing.T) {
		require.NoError(t, s.SetEmbedderMarker(ctx, "nellie-static-v1", EmbeddingDimensions))

		model, dim, ok, err := s.EmbedderMarker(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "nellie-static-v1", model)
		assert.Equal(t, EmbeddingDimensions, dim)
	})

	t.Run("repeat write with matching dimension is a no-op", func(t *testing.T) {
		require.NoError(t, s.SetEmbedderMarker(ctx, "nellie-static-v1", EmbeddingDimensions))
	})

	t.Run("mismatched dimension is refused", func(t *testing.T) {
		err := s.SetEmbedderMarker(ctx, "some-other-model", EmbeddingDimensions+1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dimension mismatch")
	})
}
