package lt

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tunedFixture(t *testing.T, workspace uint64) (*fakeDriver, *Handle, *Problem, Candidate) {
	driver := &fakeDriver{results: []HeuristicResult{result(42, workspace)}}
	h := New(driver)
	p := newTestProblem(t, 8, 8, 8)
	candidates, err := h.Tune(p, math.MaxUint64, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	return driver, h, p, candidates[0]
}

func TestMatMul_Enqueues(t *testing.T) {
	driver, h, p, c := tunedFixture(t, 256)

	err := MatMul(h, p, c, Args[float32]{
		A: 0x1000, B: 0x2000, C: 0x3000, D: 0x3000,
		Alpha: 1.5, Beta: 0.25,
		Workspace: Workspace{Ptr: 0x9000, Size: 256},
	}, fakeStream{})
	require.NoError(t, err)

	require.Len(t, driver.matmuls, 1)
	call := driver.matmuls[0]
	assert.Same(t, p, call.problem)
	assert.Equal(t, algoN(42), call.algo)
	assert.Equal(t, DevicePtr(0x1000), call.args.A)
	assert.Equal(t, DevicePtr(0x3000), call.args.D)
	assert.Equal(t, 1.5, call.alpha)
	assert.Equal(t, 0.25, call.beta)
	assert.False(t, call.args.BetaIsZero)
	assert.Equal(t, uint64(256), call.args.Workspace.Size)
}

func TestMatMul_BetaZeroWithoutC(t *testing.T) {
	driver, h, p, c := tunedFixture(t, 0)

	err := MatMul(h, p, c, Args[float32]{A: 0x1000, B: 0x2000, D: 0x3000, Alpha: 1}, fakeStream{})
	require.NoError(t, err)
	require.Len(t, driver.matmuls, 1)
	assert.True(t, driver.matmuls[0].args.BetaIsZero)
	assert.Equal(t, DevicePtr(0x3000), driver.matmuls[0].args.C)
}

func TestMatMul_EquivalentProblem(t *testing.T) {
	driver, h, _, c := tunedFixture(t, 0)

	// A separately built problem with the same facts may reuse the candidate.
	same := newTestProblem(t, 8, 8, 8)
	err := MatMul(h, same, c, Args[float32]{A: 1, B: 2, D: 3, Alpha: 1}, fakeStream{})
	require.NoError(t, err)
	assert.Len(t, driver.matmuls, 1)
}

func TestMatMul_InsufficientWorkspace(t *testing.T) {
	driver, h, p, c := tunedFixture(t, 4096)

	err := MatMul(h, p, c, Args[float32]{
		A: 1, B: 2, D: 3, Alpha: 1,
		Workspace: Workspace{Ptr: 4, Size: c.WorkspaceSize() - 1},
	}, fakeStream{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientWorkspace)

	var wsErr *InsufficientWorkspaceError
	require.True(t, errors.As(err, &wsErr))
	assert.Equal(t, uint64(4096), wsErr.Required)
	assert.Equal(t, uint64(4095), wsErr.Provided)
	assert.Empty(t, driver.matmuls, "nothing may be enqueued")

	// Retrying with a large enough buffer succeeds with the same candidate.
	err = MatMul(h, p, c, Args[float32]{
		A: 1, B: 2, D: 3, Alpha: 1,
		Workspace: Workspace{Ptr: 4, Size: wsErr.Required},
	}, fakeStream{})
	require.NoError(t, err)
	assert.Len(t, driver.matmuls, 1)
}

func TestMatMul_ScalarTypeMismatch(t *testing.T) {
	driver, h, p, c := tunedFixture(t, 0)

	err := MatMul(h, p, c, Args[float64]{A: 1, B: 2, D: 3, Alpha: 1}, fakeStream{})
	assert.ErrorIs(t, err, ErrUnsupportedCombination)
	assert.Empty(t, driver.matmuls)
}

func TestMatMul_DriverErrors(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{"execution failure", StatusExecutionFailed, ErrExecutionFailed},
		{"resource exhaustion", StatusAllocFailed, ErrExecutionFailed},
		{"bad pointer", StatusInvalidValue, ErrExecutionFailed},
		{"not supported", StatusNotSupported, ErrUnsupportedCombination},
		{"workspace rejected by the library", StatusInsufficientWork, ErrInsufficientWorkspace},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			driver, h, p, c := tunedFixture(t, 0)
			driver.matmulErr = tc.err

			err := MatMul(h, p, c, Args[float32]{A: 1, B: 2, D: 3, Alpha: 1}, fakeStream{})
			assert.ErrorIs(t, err, tc.target)
		})
	}

	t.Run("native status is preserved", func(t *testing.T) {
		driver, h, p, c := tunedFixture(t, 0)
		driver.matmulErr = StatusExecutionFailed
		err := MatMul(h, p, c, Args[float32]{A: 1, B: 2, D: 3, Alpha: 1}, fakeStream{})
		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, StatusExecutionFailed, execErr.Status)
		assert.Equal(t, "matmul", execErr.Op)
	})

	t.Run("workspace rejected by the library", func(t *testing.T) {
		driver, h, p, c := tunedFixture(t, 64)
		driver.matmulErr = StatusInsufficientWork
		err := MatMul(h, p, c, Args[float32]{A: 1, B: 2, D: 3, Alpha: 1, Workspace: Workspace{Ptr: 4, Size: 128}}, fakeStream{})
		var short *InsufficientWorkspaceError
		require.True(t, errors.As(err, &short))
		assert.Equal(t, uint64(64), short.Required)
		assert.Equal(t, uint64(128), short.Provided)
		var execErr *ExecutionError
		assert.False(t, errors.As(err, &execErr))
	})
}

func TestMatMul_ProgrammingErrorsPanic(t *testing.T) {
	_, h, p, c := tunedFixture(t, 0)
	args := Args[float32]{A: 1, B: 2, D: 3, Alpha: 1}

	t.Run("candidate from another problem", func(t *testing.T) {
		other := newTestProblem(t, 16, 8, 8)
		assert.Panics(t, func() { _ = MatMul(h, other, c, args, fakeStream{}) })
	})

	t.Run("zero candidate", func(t *testing.T) {
		assert.Panics(t, func() { _ = MatMul(h, p, Candidate{}, args, fakeStream{}) })
	})

	t.Run("released handle", func(t *testing.T) {
		_, closed, p, c := tunedFixture(t, 0)
		closed.Close()
		assert.Panics(t, func() { _ = MatMul(closed, p, c, args, fakeStream{}) })
	})
}
