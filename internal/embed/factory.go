package embed

import "context"

// NewFromConfig builds the embedder the Indexer and Query path should
// share a single instance of, per spec's "the Indexer and Query path must
// use the same embedder instance" invariant. When embeddings are
// disabled, or the ONNX runtime/model files cannot be loaded, it falls
// back to the placeholder embedder rather than failing startup — the
// spec requires both embedders be usable interchangeably.
func NewFromConfig(ctx context.Context, dataDir string, workerCount int, enableEmbeddings bool) (Embedder, error) {
	if !enableEmbeddings {
		return NewStaticEmbedder(), nil
	}

	onnx := NewONNXEmbedder(dataDir, workerCount)
	if err := onnx.Init(ctx); err != nil {
		return NewStaticEmbedder(), nil
	}

	return NewCachedEmbedderWithDefaults(onnx), nil
}
