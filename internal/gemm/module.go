package gemm

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/config"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

// Module provides a *gpu.Manager and a *Runner built from *config.Config and
// *zap.Logger, and releases both when the application stops.
var Module = fx.Module("gemm",
	fx.Provide(
		NewManager,
		NewRunnerFromManager,
	),
)

// NewManager selects and initializes the backend named in the config.
func NewManager(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*gpu.Manager, error) {
	opts, err := cfg.CPUOptions()
	if err != nil {
		return nil, err
	}
	manager, err := gpu.NewManager(logger, cfg.Backend.Kind, opts)
	if err != nil {
		return nil, err
	}
	info := manager.GetDeviceInfo()
	logger.Info("Compute backend initialized",
		zap.String("backend", manager.GetBackendType()),
		zap.String("device", info.Name),
		zap.String("compute_capability", info.ComputeCapability))
	if info.CUDAVersion != "" {
		logger.Info("CUDA information",
			zap.String("cuda_version", info.CUDAVersion),
			zap.String("driver_version", info.DriverVersion),
			zap.String("cublaslt_version", info.LtVersion),
			zap.Int64("total_memory_mb", info.TotalMemory/(1024*1024)),
			zap.Int64("available_memory_mb", info.AvailableMemory/(1024*1024)))
	}
	lc.Append(fx.StopHook(manager.Cleanup))
	return manager, nil
}

// NewRunnerFromManager builds a Runner on the manager's backend and handle.
func NewRunnerFromManager(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, manager *gpu.Manager) *Runner {
	runner := NewRunner(logger, manager.GetBackend(), manager.Handle(), OptionsFromConfig(cfg))
	lc.Append(fx.StopHook(runner.Close))
	return runner
}
