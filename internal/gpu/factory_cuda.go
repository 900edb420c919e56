//go:build cuda
// +build cuda

package gpu

import (
	"go.uber.org/zap"
)

// autoBackend picks the best backend for "auto" selection.
// It will try CUDA first, then fall back to CPU
func autoBackend(logger *zap.Logger, opts CPUOptions) Backend {
	// Try CUDA backend first
	cudaBackend := NewCUDABackend(logger)
	if cudaBackend.IsAvailable() {
		logger.Info("Using CUDA GPU backend")
		return cudaBackend
	}

	// Fall back to CPU
	logger.Info("Using CPU backend (no GPU available)")
	return NewCPUBackend(logger, opts)
}
