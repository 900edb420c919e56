package gpu

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrCUDANotCompiled is returned when the CUDA backend is requested from a
// binary built without the cuda tag.
var ErrCUDANotCompiled = errors.New("CUDA backend not available (built without the cuda tag)")

// Backend kinds accepted by NewBackend.
const (
	KindAuto = "auto"
	KindCPU  = "cpu"
	KindCUDA = "cuda"
)

// NewBackend creates the backend named by kind. It does not initialize it.
func NewBackend(logger *zap.Logger, kind string, opts CPUOptions) (Backend, error) {
	switch kind {
	case KindAuto, "":
		return autoBackend(logger, opts), nil
	case KindCPU:
		return NewCPUBackend(logger, opts), nil
	case KindCUDA:
		if !cudaCompiled {
			return nil, ErrCUDANotCompiled
		}
		return NewCUDABackend(logger), nil
	}
	return nil, errors.Errorf("unknown backend kind %q", kind)
}
