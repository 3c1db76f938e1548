package embed

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// WorkQueueCapacity bounds the number of in-flight batch requests the
// worker pool will buffer before callers block on submission.
const WorkQueueCapacity = 100

// DefaultWorkerCount is min(available_parallelism, 4).
func DefaultWorkerCount() int {
	n := runtime.GOMAXPROCS(0)
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// workRequest carries one batch of texts and the reply slot the
// submitting caller awaits; workers loop on queue-receive, run inference,
// and deliver the result down replyTo exactly once.
type workRequest struct {
	ctx      context.Context
	texts    []string
	replyTo  chan workReply
}

type workReply struct {
	vectors [][]float32
	err     error
}

// ONNXEmbedder is the real embedder: a service wrapper around a loaded
// ONNX Runtime session and a pool of OS threads that own it. It is the
// single public type for this concern, matching spec's "single public
// type owning an atomic initialised flag plus a guarded handle to the
// worker pool".
type ONNXEmbedder struct {
	dataDir      string
	workerCount  int
	initialised  atomic.Bool
	mu           sync.Mutex
	runtime      *ortRuntime
	session      *ortSession
	tokenizer    *wordPieceTokenizer
	queue        chan workRequest
	closeOnce    sync.Once
	workersDone  sync.WaitGroup
}

var _ Embedder = (*ONNXEmbedder)(nil)

// NewONNXEmbedder constructs an embedder bound to dataDir's models
// subdirectory. It does not load anything until Init is called.
func NewONNXEmbedder(dataDir string, workerCount int) *ONNXEmbedder {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount()
	}
	return &ONNXEmbedder{dataDir: dataDir, workerCount: workerCount}
}

// Init loads the model and tokenizer (blocking, synchronous work
// performed outside the cooperative scheduler) and spawns the worker
// pool. Calling Init more than once is a no-op after the first success.
func (e *ONNXEmbedder) Init(ctx context.Context) error {
	if e.initialised.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialised.Load() {
		return nil
	}

	locator := newModelLocator(e.dataDir)
	modelPath, tokenizerPath, err := locator.resolve()
	if err != nil {
		return err
	}

	tokenizer, err := loadWordPieceTokenizer(tokenizerPath)
	if err != nil {
		return err
	}

	rt, err := loadOrtRuntime()
	if err != nil {
		return err
	}

	session, err := newOrtSession(ctx, rt, modelPath)
	if err != nil {
		rt.close()
		return err
	}

	e.runtime = rt
	e.session = session
	e.tokenizer = tokenizer
	e.queue = make(chan workRequest, WorkQueueCapacity)

	for i := 0; i < e.workerCount; i++ {
		e.workersDone.Add(1)
		go e.runWorker(i)
	}

	e.initialised.Store(true)
	return nil
}

// runWorker is the body of one embedding worker, locked to its own OS
// thread for its lifetime: loop on queue-receive, run inference, deliver
// the result. The OS thread is not given a name; id is only the worker's
// index in the pool.
func (e *ONNXEmbedder) runWorker(id int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer e.workersDone.Done()
	for req := range e.queue {
		vectors, err := e.infer(req.texts)
		select {
		case req.replyTo <- workReply{vectors: vectors, err: err}:
		case <-req.ctx.Done():
		}
	}
}

func (e *ONNXEmbedder) infer(texts []string) ([][]float32, error) {
	sequences := make([][]int64, len(texts))
	for i, text := range texts {
		sequences[i] = e.tokenizer.encode(text)
	}
	ids, mask, tokenTypes, seqLen := buildBatchTensors(sequences, e.tokenizer.padID)
	return e.session.runBatch(ids, mask, tokenTypes, len(texts), seqLen)
}

// submit enqueues texts and awaits the reply, returning the typed
// WorkerPool error if the embedder has not been initialised.
func (e *ONNXEmbedder) submit(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.initialised.Load() {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingWorkerPool, "not initialized", nil)
	}

	reply := make(chan workReply, 1)
	req := workRequest{ctx: ctx, texts: texts, replyTo: reply}

	select {
	case e.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		return r.vectors, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Embed generates an embedding for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.submit(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one inference
// call, subject to MaxBatchSize.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingRuntime,
			fmt.Sprintf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}
	return e.submit(ctx, texts)
}

// Dimensions returns the fixed embedding width.
func (e *ONNXEmbedder) Dimensions() int { return EmbeddingDimensions }

// ModelName returns the model file name used for the symmetry marker.
func (e *ONNXEmbedder) ModelName() string { return DefaultModelFile }

// Available reports whether the embedder has completed Init.
func (e *ONNXEmbedder) Available(_ context.Context) bool {
	return e.initialised.Load()
}

// Close shuts the worker pool down cleanly: closing the queue causes each
// worker to exit its receive loop once drained, then releases the
// session and runtime.
func (e *ONNXEmbedder) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.initialised.Load() {
			return
		}
		close(e.queue)
		e.workersDone.Wait()
		if e.session != nil {
			e.session.close()
		}
		if e.runtime != nil {
			e.runtime.close()
		}
		e.initialised.Store(false)
	})
	return nil
}
