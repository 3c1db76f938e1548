package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

func TestONNXEmbedder_ImplementsEmbedderInterface(t *testing.T) {
	var _ Embedder = (*ONNXEmbedder)(nil)
}

func TestONNXEmbedder_EmbedBeforeInit_ReturnsWorkerPoolError(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	_, err := e.Embed(context.Background(), "some text")

	require.Error(t, err)
	assert.Equal(t, nellieerrors.KindEmbeddingWorkerPool, nellieerrors.GetKind(err))
}

func TestONNXEmbedder_Available_FalseBeforeInit(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	assert.False(t, e.Available(context.Background()))
}

func TestONNXEmbedder_Dimensions_IsFixed(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	assert.Equal(t, EmbeddingDimensions, e.Dimensions())
}

func TestONNXEmbedder_EmbedBatch_EmptyInputReturnsEmptySlice(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	results, err := e.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestONNXEmbedder_EmbedBatch_OverMaxBatchSizeReturnsError(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "text"
	}

	_, err := e.EmbedBatch(context.Background(), texts)

	require.Error(t, err)
}

func TestONNXEmbedder_Init_FailsWithoutModelFiles(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	err := e.Init(context.Background())

	require.Error(t, err)
	assert.Equal(t, nellieerrors.KindEmbeddingModelLoad, nellieerrors.GetKind(err))
}

func TestONNXEmbedder_Close_BeforeInitIsNoop(t *testing.T) {
	e := NewONNXEmbedder(t.TempDir(), 1)

	assert.NoError(t, e.Close())
}

func TestDefaultWorkerCount_IsAtLeastOneAndAtMostFour(t *testing.T) {
	n := DefaultWorkerCount()

	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}

func TestNewFromConfig_DisabledReturnsStaticEmbedder(t *testing.T) {
	e, err := NewFromConfig(context.Background(), t.TempDir(), 1, false)

	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}

func TestNewFromConfig_EnabledWithoutModelFilesFallsBackToStatic(t *testing.T) {
	e, err := NewFromConfig(context.Background(), t.TempDir(), 1, true)

	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}
