//go:build cuda
// +build cuda

package gpu

/*
#cgo LDFLAGS: -lcudart -lcublasLt -lcublas
#include <cuda_runtime.h>
#include <cublas_v2.h>
#include <cublasLt.h>
#include <stdint.h>
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// CUDABackend implements Backend on an NVIDIA GPU through cudart and cuBLASLt.
// The reference GEMM goes through the classic cuBLAS API.
type CUDABackend struct {
	logger      *zap.Logger
	initialized bool
	deviceInfo  DeviceInfo
	available   bool

	lt C.cublasLtHandle_t

	// cuBLAS handles are bound to one stream at a time.
	blasMu sync.Mutex
	blas   C.cublasHandle_t
}

// NewCUDABackend creates a new CUDA backend instance
func NewCUDABackend(logger *zap.Logger) *CUDABackend {
	backend := &CUDABackend{
		logger: logger.Named("cuda"),
	}

	// Check if CUDA is available
	if err := backend.checkDevice(); err != nil {
		backend.logger.Warn("CUDA device not available", zap.Error(err))
		backend.available = false
	} else {
		backend.available = true
	}

	return backend
}

func (c *CUDABackend) Name() string { return "cuda" }

// Initialize creates the cuBLASLt and cuBLAS handles on device 0.
func (c *CUDABackend) Initialize() error {
	if !c.available {
		return fmt.Errorf("CUDA device not available")
	}

	if c.initialized {
		return nil
	}

	c.logger.Debug("Initializing CUDA backend")

	if err := cudaCheck(C.cudaSetDevice(0)); err != nil {
		return errors.Wrap(err, "cudaSetDevice")
	}
	if err := blasCheck(C.cublasLtCreate(&c.lt)); err != nil {
		return errors.Wrap(err, "cublasLtCreate")
	}
	if err := blasCheck(C.cublasCreate(&c.blas)); err != nil {
		C.cublasLtDestroy(c.lt)
		return errors.Wrap(err, "cublasCreate")
	}

	var prop C.struct_cudaDeviceProp
	if err := cudaCheck(C.cudaGetDeviceProperties(&prop, 0)); err != nil {
		return errors.Wrap(err, "failed to get device info")
	}
	var free, total C.size_t
	if err := cudaCheck(C.cudaMemGetInfo(&free, &total)); err != nil {
		return errors.Wrap(err, "cudaMemGetInfo")
	}
	var driverVersion, runtimeVersion C.int
	C.cudaDriverGetVersion(&driverVersion)
	C.cudaRuntimeGetVersion(&runtimeVersion)

	c.deviceInfo = DeviceInfo{
		Name:              C.GoString(&prop.name[0]),
		TotalMemory:       int64(total),
		AvailableMemory:   int64(free),
		ComputeCapability: fmt.Sprintf("%d.%d", int(prop.major), int(prop.minor)),
		DriverVersion:     formatCUDAVersion(int(driverVersion)),
		CUDAVersion:       formatCUDAVersion(int(runtimeVersion)),
		LtVersion:         fmt.Sprintf("%d", uint64(C.cublasLtGetVersion())),
	}

	c.initialized = true
	c.logger.Info("CUDA backend initialized",
		zap.String("device", c.deviceInfo.Name),
		zap.String("compute_capability", c.deviceInfo.ComputeCapability),
		zap.Float64("total_memory_gb", float64(c.deviceInfo.TotalMemory)/(1<<30)))

	return nil
}

// GetDeviceInfo returns information about the CUDA device
func (c *CUDABackend) GetDeviceInfo() DeviceInfo {
	return c.deviceInfo
}

// IsAvailable checks if CUDA is available
func (c *CUDABackend) IsAvailable() bool {
	return c.available
}

// Cleanup destroys the library handles.
func (c *CUDABackend) Cleanup() error {
	if !c.initialized {
		return nil
	}

	c.logger.Debug("Cleaning up CUDA backend")

	err := multierr.Combine(
		blasCheck(C.cublasDestroy(c.blas)),
		blasCheck(C.cublasLtDestroy(c.lt)),
	)
	c.initialized = false
	return err
}

// checkDevice verifies CUDA device availability
func (c *CUDABackend) checkDevice() error {
	var count C.int
	if err := cudaCheck(C.cudaGetDeviceCount(&count)); err != nil {
		return errors.Wrap(err, "CUDA device check failed")
	}
	if count == 0 {
		return errors.New("no CUDA device")
	}
	return nil
}

func (c *CUDABackend) Malloc(bytes uint64) (lt.DevicePtr, error) {
	var p unsafe.Pointer
	if err := cudaCheck(C.cudaMalloc(&p, C.size_t(bytes))); err != nil {
		return 0, errors.Wrapf(err, "cudaMalloc(%d)", bytes)
	}
	return lt.DevicePtr(uintptr(p)), nil
}

func (c *CUDABackend) Free(ptr lt.DevicePtr) error {
	return cudaCheck(C.cudaFree(devicePointer(ptr)))
}

type cudaStream struct {
	owner  *CUDABackend
	handle C.cudaStream_t
}

func (s *cudaStream) Synchronize() error {
	return cudaCheck(C.cudaStreamSynchronize(s.handle))
}

func (s *cudaStream) Destroy() error {
	return multierr.Combine(
		s.Synchronize(),
		cudaCheck(C.cudaStreamDestroy(s.handle)),
	)
}

func (c *CUDABackend) NewStream() (Stream, error) {
	s := &cudaStream{owner: c}
	if err := cudaCheck(C.cudaStreamCreate(&s.handle)); err != nil {
		return nil, errors.Wrap(err, "cudaStreamCreate")
	}
	return s, nil
}

func (c *CUDABackend) stream(s lt.Stream) (*cudaStream, error) {
	cs, ok := s.(*cudaStream)
	if !ok || cs.owner != c {
		return nil, errors.Errorf("stream %T does not belong to the CUDA backend", s)
	}
	return cs, nil
}

func (c *CUDABackend) CopyToDevice(dst lt.DevicePtr, src []byte, stream Stream) error {
	cs, err := c.stream(stream)
	if err != nil {
		return err
	}
	return cudaCheck(C.cudaMemcpyAsync(devicePointer(dst), unsafe.Pointer(&src[0]), C.size_t(len(src)), C.cudaMemcpyHostToDevice, cs.handle))
}

func (c *CUDABackend) CopyToHost(dst []byte, src lt.DevicePtr, stream Stream) error {
	cs, err := c.stream(stream)
	if err != nil {
		return err
	}
	return cudaCheck(C.cudaMemcpyAsync(unsafe.Pointer(&dst[0]), devicePointer(src), C.size_t(len(dst)), C.cudaMemcpyDeviceToHost, cs.handle))
}

// ReferenceGemm runs cublasGemmEx with the default algorithm. cuBLAS is
// column-major, so the row-major product is computed as C^T = B^T * A^T.
func (c *CUDABackend) ReferenceGemm(m, k, n int, alpha float32, a, b lt.DevicePtr, beta float32, cPtr lt.DevicePtr, stream Stream) error {
	cs, err := c.stream(stream)
	if err != nil {
		return err
	}
	c.blasMu.Lock()
	defer c.blasMu.Unlock()
	if err := blasCheck(C.cublasSetStream(c.blas, cs.handle)); err != nil {
		return err
	}
	return blasCheck(C.cublasGemmEx(c.blas,
		C.CUBLAS_OP_N, C.CUBLAS_OP_N,
		C.int(n), C.int(m), C.int(k),
		unsafe.Pointer(&alpha),
		devicePointer(b), C.CUDA_R_32F, C.int(n),
		devicePointer(a), C.CUDA_R_32F, C.int(k),
		unsafe.Pointer(&beta),
		devicePointer(cPtr), C.CUDA_R_32F, C.int(n),
		C.CUBLAS_COMPUTE_32F, C.CUBLAS_GEMM_DEFAULT))
}

// ltDescriptors are the cuBLASLt objects describing one problem.
type ltDescriptors struct {
	op         C.cublasLtMatmulDesc_t
	a, b, c, d C.cublasLtMatrixLayout_t
}

func newLtDescriptors(p *lt.Problem) (*ltDescriptors, error) {
	compute, ok := computeTypes[p.Desc().ComputeType()]
	if !ok {
		return nil, lt.StatusNotSupported
	}
	scale, ok := dataTypes[p.Desc().ScaleType()]
	if !ok {
		return nil, lt.StatusNotSupported
	}
	desc := &ltDescriptors{}
	if err := blasCheck(C.cublasLtMatmulDescCreate(&desc.op, compute, scale)); err != nil {
		return nil, err
	}
	layouts := []struct {
		m   *lt.Matrix
		dst *C.cublasLtMatrixLayout_t
	}{{p.A(), &desc.a}, {p.B(), &desc.b}, {p.C(), &desc.c}, {p.D(), &desc.d}}
	for _, l := range layouts {
		if err := newLtLayout(l.m, l.dst); err != nil {
			desc.destroy()
			return nil, err
		}
	}
	return desc, nil
}

func newLtLayout(m *lt.Matrix, dst *C.cublasLtMatrixLayout_t) error {
	dtype, ok := dataTypes[m.DataType()]
	if !ok {
		return lt.StatusNotSupported
	}
	if err := blasCheck(C.cublasLtMatrixLayoutCreate(dst, dtype, C.uint64_t(m.Rows()), C.uint64_t(m.Cols()), C.int64_t(m.LD()))); err != nil {
		return err
	}
	order := C.int32_t(C.CUBLASLT_ORDER_COL)
	if m.Order() == lt.RowMajor {
		order = C.int32_t(C.CUBLASLT_ORDER_ROW)
	}
	batch := C.int32_t(m.Batch())
	stride := C.int64_t(m.BatchStride())
	return multierr.Combine(
		blasCheck(C.cublasLtMatrixLayoutSetAttribute(*dst, C.CUBLASLT_MATRIX_LAYOUT_ORDER, unsafe.Pointer(&order), C.size_t(unsafe.Sizeof(order)))),
		blasCheck(C.cublasLtMatrixLayoutSetAttribute(*dst, C.CUBLASLT_MATRIX_LAYOUT_BATCH_COUNT, unsafe.Pointer(&batch), C.size_t(unsafe.Sizeof(batch)))),
		blasCheck(C.cublasLtMatrixLayoutSetAttribute(*dst, C.CUBLASLT_MATRIX_LAYOUT_STRIDED_BATCH_OFFSET, unsafe.Pointer(&stride), C.size_t(unsafe.Sizeof(stride)))),
	)
}

func (d *ltDescriptors) destroy() {
	for _, l := range []C.cublasLtMatrixLayout_t{d.a, d.b, d.c, d.d} {
		if l != nil {
			C.cublasLtMatrixLayoutDestroy(l)
		}
	}
	if d.op != nil {
		C.cublasLtMatmulDescDestroy(d.op)
	}
}

// Heuristic implements lt.Driver with cublasLtMatmulAlgoGetHeuristic.
func (c *CUDABackend) Heuristic(p *lt.Problem, workspaceLimit uint64, requested int) ([]lt.HeuristicResult, error) {
	desc, err := newLtDescriptors(p)
	if err != nil {
		return nil, err
	}
	defer desc.destroy()

	var pref C.cublasLtMatmulPreference_t
	if err := blasCheck(C.cublasLtMatmulPreferenceCreate(&pref)); err != nil {
		return nil, err
	}
	defer C.cublasLtMatmulPreferenceDestroy(pref)
	limit := C.uint64_t(workspaceLimit)
	if err := blasCheck(C.cublasLtMatmulPreferenceSetAttribute(pref, C.CUBLASLT_MATMUL_PREF_MAX_WORKSPACE_BYTES, unsafe.Pointer(&limit), C.size_t(unsafe.Sizeof(limit)))); err != nil {
		return nil, err
	}

	raw := make([]C.cublasLtMatmulHeuristicResult_t, requested)
	var returned C.int
	if err := blasCheck(C.cublasLtMatmulAlgoGetHeuristic(c.lt, desc.op, desc.a, desc.b, desc.c, desc.d, pref, C.int(requested), &raw[0], &returned)); err != nil {
		return nil, err
	}
	results := make([]lt.HeuristicResult, 0, int(returned))
	for _, r := range raw[:returned] {
		var data [lt.AlgoWords]uint64
		for i := range data {
			data[i] = uint64(r.algo.data[i])
		}
		results = append(results, lt.HeuristicResult{
			Algo:          lt.NewAlgo(data),
			WorkspaceSize: uint64(r.workspaceSize),
			Waves:         float32(r.wavesCount),
			Status:        lt.Status(r.state),
		})
	}
	return results, nil
}

// MatMul implements lt.Driver with cublasLtMatmul.
func (c *CUDABackend) MatMul(p *lt.Problem, algo lt.Algo, args lt.RawArgs, stream lt.Stream) error {
	cs, err := c.stream(stream)
	if err != nil {
		return lt.StatusInvalidValue
	}
	desc, err := newLtDescriptors(p)
	if err != nil {
		return err
	}
	defer desc.destroy()

	var calgo C.cublasLtMatmulAlgo_t
	data := algo.Data()
	for i := range data {
		calgo.data[i] = C.uint64_t(data[i])
	}
	return blasCheck(C.cublasLtMatmul(c.lt, desc.op,
		args.Alpha,
		devicePointer(args.A), desc.a,
		devicePointer(args.B), desc.b,
		args.Beta,
		devicePointer(args.C), desc.c,
		devicePointer(args.D), desc.d,
		&calgo,
		devicePointer(args.Workspace.Ptr), C.size_t(args.Workspace.Size),
		cs.handle))
}

var dataTypes = map[lt.DataType]C.cudaDataType{
	lt.R16F: C.CUDA_R_16F,
	lt.R32F: C.CUDA_R_32F,
	lt.R64F: C.CUDA_R_64F,
	lt.R8I:  C.CUDA_R_8I,
	lt.R32I: C.CUDA_R_32I,
}

var computeTypes = map[lt.ComputeType]C.cublasComputeType_t{
	lt.Compute16F:         C.CUBLAS_COMPUTE_16F,
	lt.Compute32F:         C.CUBLAS_COMPUTE_32F,
	lt.Compute32FFastTF32: C.CUBLAS_COMPUTE_32F_FAST_TF32,
	lt.Compute64F:         C.CUBLAS_COMPUTE_64F,
	lt.Compute32I:         C.CUBLAS_COMPUTE_32I,
}

// devicePointer converts a device address for the C API. The address is
// never dereferenced by Go.
func devicePointer(p lt.DevicePtr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

func cudaCheck(err C.cudaError_t) error {
	if err == C.cudaSuccess {
		return nil
	}
	return fmt.Errorf("%s (%d)", C.GoString(C.cudaGetErrorString(err)), int(err))
}

func blasCheck(status C.cublasStatus_t) error {
	if status == C.CUBLAS_STATUS_SUCCESS {
		return nil
	}
	return lt.Status(status)
}

func formatCUDAVersion(v int) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}
