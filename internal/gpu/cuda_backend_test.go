//go:build cuda
// +build cuda

package gpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

func newTestCUDABackend(t *testing.T) *CUDABackend {
	t.Helper()
	backend := NewCUDABackend(zaptest.NewLogger(t))
	if !backend.IsAvailable() {
		t.Skip("CUDA not available on this system")
	}
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Cleanup() })
	return backend
}

func TestCUDABackend_Initialize(t *testing.T) {
	backend := newTestCUDABackend(t)
	assert.True(t, backend.initialized)

	info := backend.GetDeviceInfo()
	assert.NotEmpty(t, info.Name)
	assert.Greater(t, info.TotalMemory, int64(0))
	assert.NotEmpty(t, info.ComputeCapability)
	assert.NotEmpty(t, info.LtVersion)

	// Test double initialization (should be idempotent)
	assert.NoError(t, backend.Initialize())
}

func TestCUDABackend_TuneScenario(t *testing.T) {
	backend := newTestCUDABackend(t)
	h := lt.New(backend)
	defer h.Close()

	p := newProblem(t, lt.Compute32F, lt.R32F,
		rowMajor(5376, 2048, lt.R32F),
		rowMajor(2048, 256, lt.R32F),
		rowMajor(5376, 256, lt.R32F), true)

	candidates, err := h.Tune(p, math.MaxUint64, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	for _, limit := range []uint64{0, 1 << 20, 32 << 20} {
		candidates, err := h.Tune(p, limit, 8)
		require.NoError(t, err)
		for _, c := range candidates {
			assert.LessOrEqual(t, c.WorkspaceSize(), limit)
		}
	}
}

func TestCUDABackend_MatMulMatchesReference(t *testing.T) {
	backend := newTestCUDABackend(t)
	h := lt.New(backend)
	defer h.Close()
	stream := newTestStream(t, backend)

	const m, k, n = 96, 64, 48
	p := newProblem(t, lt.Compute32F, lt.R32F,
		rowMajor(m, k, lt.R32F), rowMajor(k, n, lt.R32F), rowMajor(m, n, lt.R32F), true)
	a := randomFill[float32](p.A(), 1)
	b := randomFill[float32](p.B(), 2)

	aBuf, err := Upload(backend, a, stream)
	require.NoError(t, err)
	defer aBuf.Free()
	bBuf, err := Upload(backend, b, stream)
	require.NoError(t, err)
	defer bBuf.Free()
	ref, err := Alloc(backend, p.D().Bytes())
	require.NoError(t, err)
	defer ref.Free()
	require.NoError(t, backend.ReferenceGemm(m, k, n, 1, aBuf.Ptr(), bBuf.Ptr(), 0, ref.Ptr(), stream))
	expected, err := Download[float32](backend, ref.Ptr(), m*n, stream)
	require.NoError(t, err)

	candidates, err := h.Tune(p, 32<<20, 4)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, cand := range candidates {
		d := execute(t, backend, h, p, cand, a, b, make([]float32, m*n), 1, 0)
		assert.InDeltaSlice(t, expected, d, 1e-3, "candidate %s", cand)
	}
}

func TestCUDABackend_InsufficientWorkspace(t *testing.T) {
	backend := newTestCUDABackend(t)
	h := lt.New(backend)
	defer h.Close()
	stream := newTestStream(t, backend)

	p := newProblem(t, lt.Compute32F, lt.R32F,
		rowMajor(1024, 1024, lt.R32F), rowMajor(1024, 1024, lt.R32F), rowMajor(1024, 1024, lt.R32F), true)
	candidates, err := h.Tune(p, math.MaxUint64, 16)
	require.NoError(t, err)
	for _, cand := range candidates {
		if cand.WorkspaceSize() == 0 {
			continue
		}
		err := lt.MatMul(h, p, cand, lt.Args[float32]{Alpha: 1, Workspace: lt.Workspace{Size: cand.WorkspaceSize() - 1}}, stream)
		assert.ErrorIs(t, err, lt.ErrInsufficientWorkspace)
		return
	}
	t.Skip("no candidate with a workspace requirement")
}
