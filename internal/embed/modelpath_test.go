package embed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

func TestModelLocator_ResolveMissingModelReturnsTypedError(t *testing.T) {
	loc := newModelLocator(t.TempDir())

	_, _, err := loc.resolve()

	require.Error(t, err)
	assert.Equal(t, nellieerrors.KindEmbeddingModelLoad, nellieerrors.GetKind(err))
}

func TestModelLocator_ResolveSucceedsWhenBothFilesPresent(t *testing.T) {
	dataDir := t.TempDir()
	modelsDir := filepath.Join(dataDir, "models")
	require.NoError(t, os.MkdirAll(modelsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, DefaultModelFile), []byte("onnx-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, DefaultTokenizerFile), []byte("{}"), 0o644))

	loc := newModelLocator(dataDir)

	modelPath, tokenizerPath, err := loc.resolve()

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelsDir, DefaultModelFile), modelPath)
	assert.Equal(t, filepath.Join(modelsDir, DefaultTokenizerFile), tokenizerPath)
}

func TestModelLocator_ResolveMissingTokenizerReturnsTypedError(t *testing.T) {
	dataDir := t.TempDir()
	modelsDir := filepath.Join(dataDir, "models")
	require.NoError(t, os.MkdirAll(modelsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, DefaultModelFile), []byte("onnx-bytes"), 0o644))

	loc := newModelLocator(dataDir)

	_, _, err := loc.resolve()

	require.Error(t, err)
	assert.Equal(t, nellieerrors.KindEmbeddingModelLoad, nellieerrors.GetKind(err))
}
