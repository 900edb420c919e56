//go:build !cuda
// +build !cuda

package gpu

import (
	"go.uber.org/zap"
)

// autoBackend picks the best backend for "auto" selection.
// Without GPU support, it will always return CPU backend
func autoBackend(logger *zap.Logger, opts CPUOptions) Backend {
	logger.Info("Using CPU backend (compiled without GPU support)")
	return NewCPUBackend(logger, opts)
}
