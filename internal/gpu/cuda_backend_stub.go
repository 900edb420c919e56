//go:build !cuda
// +build !cuda

package gpu

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// CUDABackend is a stub type when CUDA is not available
type CUDABackend struct {
	logger *zap.Logger
}

// NewCUDABackend returns a backend that reports itself unavailable.
func NewCUDABackend(logger *zap.Logger) *CUDABackend {
	return &CUDABackend{logger: logger.Named("cuda")}
}

func (c *CUDABackend) Name() string { return "cuda" }

func (c *CUDABackend) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{Name: "CUDA not available"}
}

func (c *CUDABackend) IsAvailable() bool {
	return false
}

func (c *CUDABackend) Initialize() error {
	return ErrCUDANotCompiled
}

func (c *CUDABackend) Cleanup() error {
	return nil
}

func (c *CUDABackend) Malloc(uint64) (lt.DevicePtr, error) { return 0, ErrCUDANotCompiled }
func (c *CUDABackend) Free(lt.DevicePtr) error { return ErrCUDANotCompiled }
func (c *CUDABackend) NewStream() (Stream, error) { return nil, ErrCUDANotCompiled }

func (c *CUDABackend) CopyToDevice(lt.DevicePtr, []byte, Stream) error {
	return ErrCUDANotCompiled
}

func (c *CUDABackend) CopyToHost([]byte, lt.DevicePtr, Stream) error {
	return ErrCUDANotCompiled
}

func (c *CUDABackend) ReferenceGemm(int, int, int, float32, lt.DevicePtr, lt.DevicePtr, float32, lt.DevicePtr, Stream) error {
	return ErrCUDANotCompiled
}

func (c *CUDABackend) Heuristic(*lt.Problem, uint64, int) ([]lt.HeuristicResult, error) {
	return nil, lt.StatusNotInitialized
}

func (c *CUDABackend) MatMul(*lt.Problem, lt.Algo, lt.RawArgs, lt.Stream) error {
	return lt.StatusNotInitialized
}
