package embed

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// cString returns a NUL-terminated copy of s suitable for passing to a C
// function expecting a const char*.
func cString(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

// goString reads a NUL-terminated C string starting at ptr.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var b []byte
	for i := 0; ; i++ {
		c := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

// ortAPIVersion is the ONNX Runtime C-API version this loader targets.
// The OrtApi struct layout (and therefore every offset below) is pinned
// to this version; bumping the runtime requires re-checking
// onnxruntime_c_api.h for reordered entries.
const ortAPIVersion = 18

// ortApi function-pointer offsets within the OrtApi vtable, counted in
// pointer-sized slots from the struct's start per onnxruntime_c_api.h for
// ortAPIVersion 18. Only the subset this package calls is named; the
// struct carries roughly 250 entries in total.
const (
	ortOffCreateStatus            = 0
	ortOffGetErrorCode            = 1
	ortOffGetErrorMessage         = 2
	ortOffCreateEnv               = 3
	ortOffCreateSessionOptions    = 10
	ortOffReleaseStatus           = 116
	ortOffCreateSession           = 7
	ortOffRun                     = 9
	ortOffCreateCpuMemoryInfo     = 64
	ortOffCreateTensorWithDataAOV = 41
	ortOffGetTensorMutableData    = 46
	ortOffReleaseEnv              = 113
	ortOffReleaseSession          = 114
	ortOffReleaseMemoryInfo       = 115
	ortOffReleaseValue            = 117
	ortOffReleaseSessionOptions   = 118
)

// ortRuntime wraps the dynamically-loaded ONNX Runtime shared library and
// the OrtApi vtable obtained from it. ONNX Runtime does not export plain
// named symbols for most of its functionality; it exports one entry point
// (OrtGetApiBase) that returns a pointer to a struct of function pointers,
// which are then invoked through purego.SyscallN using the fixed offsets
// above.
type ortRuntime struct {
	lib      uintptr
	apiBase  uintptr
	api      uintptr
	getApi   func(uint32) uintptr
	env      uintptr
	mu       sync.Mutex
	released bool
}

func libraryCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libonnxruntime.dylib", "libonnxruntime.1.dylib"}
	case "linux":
		return []string{"libonnxruntime.so", "libonnxruntime.so.1"}
	default:
		return nil
	}
}

// loadOrtRuntime dynamically loads the ONNX Runtime shared library and
// resolves its API vtable. Returns a typed EmbeddingModelLoad error if the
// library cannot be found or the API version is unavailable.
func loadOrtRuntime() (*ortRuntime, error) {
	candidates := libraryCandidates()
	if len(candidates) == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingModelLoad,
			fmt.Sprintf("onnx runtime is not supported on %s", runtime.GOOS), nil)
	}

	var lib uintptr
	var lastErr error
	for _, name := range candidates {
		h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			lib = h
			break
		}
		lastErr = err
	}
	if lib == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, "failed to load onnxruntime shared library", lastErr)
	}

	var ortGetAPIBase func() uintptr
	purego.RegisterLibFunc(&ortGetAPIBase, lib, "OrtGetApiBase")
	apiBase := ortGetAPIBase()
	if apiBase == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, "OrtGetApiBase returned null", nil)
	}

	// OrtApiBase is {GetApi func(uint32) uintptr; GetVersionString func() uintptr}.
	getAPIFn := *(*uintptr)(unsafe.Pointer(apiBase))
	var getAPI func(uint32) uintptr
	purego.RegisterFunc(&getAPI, getAPIFn)

	api := getAPI(ortAPIVersion)
	if api == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingModelLoad,
			fmt.Sprintf("onnxruntime does not support api version %d", ortAPIVersion), nil)
	}

	return &ortRuntime{lib: lib, apiBase: apiBase, api: api, getApi: getAPI}, nil
}

// ortFn resolves the vtable function pointer at slot `offset`.
func (r *ortRuntime) ortFn(offset int) uintptr {
	slot := r.api + uintptr(offset)*unsafe.Sizeof(uintptr(0))
	return *(*uintptr)(unsafe.Pointer(slot))
}

func (r *ortRuntime) checkStatus(status uintptr) error {
	if status == 0 {
		return nil
	}
	getMsg := r.ortFn(ortOffGetErrorMessage)
	msgPtr, _, _ := purego.SyscallN(getMsg, status)
	msg := goString(msgPtr)

	releaseStatus := r.ortFn(ortOffReleaseStatus)
	purego.SyscallN(releaseStatus, status)

	return nellieerrors.New(nellieerrors.KindEmbeddingRuntime, msg, nil)
}

// createEnv creates the process-wide OrtEnv used by every session.
func (r *ortRuntime) createEnv(logID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.env != 0 {
		return nil
	}

	logIDPtr := cString(logID)

	createEnv := r.ortFn(ortOffCreateEnv)
	var env uintptr
	// CreateEnv(OrtLoggingLevel, const char* logid, OrtEnv** out)
	const logLevelWarning = 2
	status, _, _ := purego.SyscallN(createEnv, uintptr(logLevelWarning), uintptr(unsafe.Pointer(logIDPtr)), uintptr(unsafe.Pointer(&env)))
	if err := r.checkStatus(status); err != nil {
		return err
	}
	r.env = env
	return nil
}

func (r *ortRuntime) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	if r.env != 0 {
		releaseEnv := r.ortFn(ortOffReleaseEnv)
		purego.SyscallN(releaseEnv, r.env)
		r.env = 0
	}
	if r.lib != 0 {
		_ = purego.Dlclose(r.lib)
	}
	r.released = true
}

// ortSession owns one loaded inference session plus the shared memory-info
// handle used to describe input tensors. Sessions are read-only once
// created; worker threads call Run concurrently against the same handle,
// matching spec's "one embedding session shared read-only by workers".
type ortSession struct {
	rt         *ortRuntime
	session    uintptr
	memoryInfo uintptr
	inputNames []string
	outputName string
}

func newOrtSession(ctx context.Context, rt *ortRuntime, modelPath string) (*ortSession, error) {
	if err := rt.createEnv("nellie"); err != nil {
		return nil, err
	}

	createOpts := rt.ortFn(ortOffCreateSessionOptions)
	var opts uintptr
	status, _, _ := purego.SyscallN(createOpts, uintptr(unsafe.Pointer(&opts)))
	if err := rt.checkStatus(status); err != nil {
		return nil, err
	}
	defer func() {
		releaseOpts := rt.ortFn(ortOffReleaseSessionOptions)
		purego.SyscallN(releaseOpts, opts)
	}()

	pathPtr := cString(modelPath)

	createSession := rt.ortFn(ortOffCreateSession)
	var session uintptr
	status, _, _ = purego.SyscallN(createSession, rt.env, uintptr(unsafe.Pointer(pathPtr)), opts, uintptr(unsafe.Pointer(&session)))
	if err := rt.checkStatus(status); err != nil {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingModelLoad, "failed to create onnx session for "+modelPath, err)
	}

	createMemInfo := rt.ortFn(ortOffCreateCpuMemoryInfo)
	var memInfo uintptr
	const allocatorDeviceCPU = 0
	const memTypeCPU = 0
	status, _, _ = purego.SyscallN(createMemInfo, uintptr(allocatorDeviceCPU), uintptr(memTypeCPU), uintptr(unsafe.Pointer(&memInfo)))
	if err := rt.checkStatus(status); err != nil {
		return nil, err
	}

	return &ortSession{
		rt:         rt,
		session:    session,
		memoryInfo: memInfo,
		inputNames: []string{"input_ids", "attention_mask", "token_type_ids"},
		outputName: "last_hidden_state",
	}, nil
}

func (s *ortSession) close() {
	if s.memoryInfo != 0 {
		release := s.rt.ortFn(ortOffReleaseMemoryInfo)
		purego.SyscallN(release, s.memoryInfo)
	}
	if s.session != 0 {
		release := s.rt.ortFn(ortOffReleaseSession)
		purego.SyscallN(release, s.session)
	}
}

// runBatch executes the three-tensor inference pipeline spec.md §4.2
// describes and returns one mean-pooled, L2-normalised vector per input
// row. batchSize and seqLen describe the shape of the flattened ids
// slices (row-major [batch, seqLen]).
func (s *ortSession) runBatch(ids, mask, tokenTypes []int64, batchSize, seqLen int) ([][]float32, error) {
	inputIDsValue, err := s.createInt64Tensor(ids, batchSize, seqLen)
	if err != nil {
		return nil, err
	}
	defer s.releaseValue(inputIDsValue)

	attnValue, err := s.createInt64Tensor(mask, batchSize, seqLen)
	if err != nil {
		return nil, err
	}
	defer s.releaseValue(attnValue)

	typeValue, err := s.createInt64Tensor(tokenTypes, batchSize, seqLen)
	if err != nil {
		return nil, err
	}
	defer s.releaseValue(typeValue)

	outputValue, err := s.run(inputIDsValue, attnValue, typeValue)
	if err != nil {
		return nil, err
	}
	defer s.releaseValue(outputValue)

	hidden, err := s.tensorFloatData(outputValue, batchSize*seqLen*EmbeddingDimensions)
	if err != nil {
		return nil, err
	}

	pooled := make([][]float32, batchSize)
	for b := 0; b < batchSize; b++ {
		sum := make([]float64, EmbeddingDimensions)
		var count int
		for t := 0; t < seqLen; t++ {
			if mask[b*seqLen+t] == 0 {
				continue
			}
			count++
			rowOffset := (b*seqLen + t) * EmbeddingDimensions
			for d := 0; d < EmbeddingDimensions; d++ {
				sum[d] += float64(hidden[rowOffset+d])
			}
		}
		if count == 0 {
			count = 1
		}
		vec := make([]float32, EmbeddingDimensions)
		for d := range vec {
			vec[d] = float32(sum[d] / float64(count))
		}
		pooled[b] = normalizeVector(vec)
	}

	return pooled, nil
}

// run invokes OrtApi.Run with the three input tensors and returns the
// single output value (the model's last hidden state).
func (s *ortSession) run(inputIDs, attentionMask, tokenTypeIDs uintptr) (uintptr, error) {
	inputNamePtrs := make([]uintptr, len(s.inputNames))
	for i, name := range s.inputNames {
		inputNamePtrs[i] = uintptr(unsafe.Pointer(cString(name)))
	}
	outputNamePtr := uintptr(unsafe.Pointer(cString(s.outputName)))

	inputs := []uintptr{inputIDs, attentionMask, tokenTypeIDs}
	var output uintptr

	runFn := s.rt.ortFn(ortOffRun)
	// Run(session, run_options, input_names[], inputs[], input_count,
	//     output_names[], output_count, outputs[])
	status, _, _ := purego.SyscallN(
		runFn,
		s.session,
		0,
		uintptr(unsafe.Pointer(&inputNamePtrs[0])),
		uintptr(unsafe.Pointer(&inputs[0])),
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&outputNamePtr)),
		1,
		uintptr(unsafe.Pointer(&output)),
	)
	if err := s.rt.checkStatus(status); err != nil {
		return 0, err
	}
	return output, nil
}

// tensorFloatData reads an OrtValue's backing buffer as a float32 slice of
// the given element count via GetTensorMutableData.
func (s *ortSession) tensorFloatData(value uintptr, elemCount int) ([]float32, error) {
	getData := s.rt.ortFn(ortOffGetTensorMutableData)
	var dataPtr uintptr
	status, _, _ := purego.SyscallN(getData, value, uintptr(unsafe.Pointer(&dataPtr)))
	if err := s.rt.checkStatus(status); err != nil {
		return nil, err
	}
	if dataPtr == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingRuntime, "tensor data pointer is null", nil)
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(dataPtr)), elemCount), nil
}

func (s *ortSession) createInt64Tensor(data []int64, batchSize, seqLen int) (uintptr, error) {
	createTensor := s.rt.ortFn(ortOffCreateTensorWithDataAOV)
	shape := []int64{int64(batchSize), int64(seqLen)}
	const elemTypeInt64 = 9 // ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64

	var value uintptr
	status, _, _ := purego.SyscallN(
		createTensor,
		s.memoryInfo,
		uintptr(unsafe.Pointer(&data[0])),
		uintptr(len(data))*unsafe.Sizeof(int64(0)),
		uintptr(unsafe.Pointer(&shape[0])),
		uintptr(len(shape)),
		uintptr(elemTypeInt64),
		uintptr(unsafe.Pointer(&value)),
	)
	if err := s.rt.checkStatus(status); err != nil {
		return 0, err
	}
	return value, nil
}

func (s *ortSession) releaseValue(v uintptr) {
	if v == 0 {
		return
	}
	release := s.rt.ortFn(ortOffReleaseValue)
	purego.SyscallN(release, v)
}
