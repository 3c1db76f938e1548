package embed

import (
	"os"
	"path/filepath"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// DefaultModelFile and DefaultTokenizerFile name the all-MiniLM-L6-v2 ONNX
// export spec.md assumes as the default model.
const (
	DefaultModelFile     = "all-MiniLM-L6-v2.onnx"
	DefaultTokenizerFile = "tokenizer.json"
)

// modelLocator resolves the on-disk paths of the model and tokenizer
// files spec.md §6 places under "<data_dir>/models/". This locator never
// fetches models over the network; a missing file is reported as an
// EmbeddingModelLoad error, not something to download.
type modelLocator struct {
	modelsDir     string
	modelFile     string
	tokenizerFile string
}

func newModelLocator(dataDir string) *modelLocator {
	return &modelLocator{
		modelsDir:     filepath.Join(dataDir, "models"),
		modelFile:     DefaultModelFile,
		tokenizerFile: DefaultTokenizerFile,
	}
}

func (m *modelLocator) modelPath() string {
	return filepath.Join(m.modelsDir, m.modelFile)
}

func (m *modelLocator) tokenizerPath() string {
	return filepath.Join(m.modelsDir, m.tokenizerFile)
}

// resolve verifies both files exist as regular files and returns their
// paths, or a typed EmbeddingModelLoad error naming whichever is missing.
func (m *modelLocator) resolve() (modelPath, tokenizerPath string, err error) {
	modelPath = m.modelPath()
	if err := requireRegularFile(modelPath); err != nil {
		return "", "", nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, "model file not found", err)
	}

	tokenizerPath = m.tokenizerPath()
	if err := requireRegularFile(tokenizerPath); err != nil {
		return "", "", nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, "tokenizer file not found", err)
	}

	return modelPath, tokenizerPath, nil
}

func requireRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, path+" is not a regular file", nil)
	}
	return nil
}
