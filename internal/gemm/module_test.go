package gemm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/fxnlabs/gemm-tuner/internal/config"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

func TestModule(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = gpu.KindCPU
	cfg.Backend.CPU.Kernels = []string{"direct", "tiled"}

	var runner *Runner
	var manager *gpu.Manager
	app := fxtest.New(t,
		fx.Supply(cfg, zaptest.NewLogger(t)),
		Module,
		fx.Populate(&runner, &manager),
	)
	app.RequireStart()

	assert.Equal(t, "cpu", manager.GetBackendType())
	assert.Same(t, manager.GetBackend(), runner.Backend())

	result, err := runner.Multiply(context.Background(), []float32{1, 0, 0, 1}, []float32{4, 3, 2, 1}, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 3, 2, 1}, result)

	app.RequireStop()
	assert.Equal(t, "none", manager.GetBackendType())
}

func TestModule_InvalidKernel(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = gpu.KindCPU
	cfg.Backend.CPU.Kernels = []string{"strassen"}

	var runner *Runner
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, zaptest.NewLogger(t)),
		Module,
		fx.Populate(&runner),
	)
	assert.ErrorContains(t, app.Err(), "strassen")
}
