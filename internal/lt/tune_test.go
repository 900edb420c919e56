package lt

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTune_RespectsWorkspaceLimit(t *testing.T) {
	driver := &fakeDriver{results: []HeuristicResult{
		result(1, 4<<20),
		result(2, 1<<20),
		result(3, 0),
		result(4, 64<<20),
		result(5, 1<<10),
	}}
	h := New(driver)
	p := newTestProblem(t, 64, 32, 16)

	for _, limit := range []uint64{0, 1, 1 << 10, 1<<20 - 1, 1 << 20, 4 << 20, 64 << 20, math.MaxUint64} {
		candidates, err := h.Tune(p, limit, 10)
		require.NoError(t, err, "limit %d", limit)
		require.NotEmpty(t, candidates, "limit %d", limit)
		for _, c := range candidates {
			assert.LessOrEqual(t, c.WorkspaceSize(), limit)
			assert.True(t, c.For(p))
		}
	}
}

func TestTune_FiltersUntrustedResults(t *testing.T) {
	p := newTestProblem(t, 64, 32, 16)

	// A driver that ignores the cap, repeats algorithms and reports failures.
	leaky := &leakyDriver{results: []HeuristicResult{
		result(1, 1<<30),
		result(2, 128),
		{Algo: algoN(3), WorkspaceSize: 0, Status: StatusNotSupported},
		result(2, 128),
		result(4, 256),
	}}
	h := New(leaky)

	candidates, err := h.Tune(p, 512, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, algoN(2), candidates[0].Algo())
	assert.Equal(t, algoN(4), candidates[1].Algo())
	assert.Equal(t, float32(4), candidates[1].Waves())
}

func TestTune_PreservesOrderAndTruncates(t *testing.T) {
	driver := &fakeDriver{results: []HeuristicResult{result(7, 0), result(3, 0), result(9, 0), result(1, 0)}}
	h := New(driver)
	p := newTestProblem(t, 16, 16, 16)

	candidates, err := h.Tune(p, math.MaxUint64, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, []Algo{algoN(7), algoN(3), algoN(9)}, []Algo{candidates[0].Algo(), candidates[1].Algo(), candidates[2].Algo()})

	candidates, err = h.Tune(p, math.MaxUint64, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, algoN(7), candidates[0].Algo())
}

func TestTune_ZeroLimitWithScratchOnlyAlgorithms(t *testing.T) {
	driver := &fakeDriver{results: []HeuristicResult{result(1, 1024), result(2, 4096)}}
	h := New(driver)
	p := newTestProblem(t, 16, 16, 16)

	candidates, err := h.Tune(p, 0, 4)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	// The first query fails with NOT_SUPPORTED, the probe finds algorithms.
	assert.Equal(t, []uint64{0, math.MaxUint64}, driver.heuristicCalls)
}

func TestTune_NoCandidatesRequested(t *testing.T) {
	driver := &fakeDriver{results: []HeuristicResult{result(1, 0)}}
	h := New(driver)

	candidates, err := h.Tune(newTestProblem(t, 4, 4, 4), math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Empty(t, driver.heuristicCalls)
}

func TestTune_Errors(t *testing.T) {
	p := newTestProblem(t, 4, 4, 4)

	t.Run("unsupported combination", func(t *testing.T) {
		h := New(&fakeDriver{})
		_, err := h.Tune(p, 1<<20, 4)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedCombination)
	})

	t.Run("unsupported with unlimited workspace", func(t *testing.T) {
		h := New(&fakeDriver{})
		_, err := h.Tune(p, math.MaxUint64, 4)
		var unsupported *UnsupportedError
		require.True(t, errors.As(err, &unsupported))
		assert.Equal(t, StatusNotSupported, unsupported.Status)
	})

	t.Run("invalid descriptors", func(t *testing.T) {
		h := New(&fakeDriver{heuristicErr: StatusInvalidValue})
		_, err := h.Tune(p, math.MaxUint64, 4)
		assert.ErrorIs(t, err, ErrUnsupportedCombination)
	})

	t.Run("driver failure", func(t *testing.T) {
		h := New(&fakeDriver{heuristicErr: StatusAllocFailed})
		_, err := h.Tune(p, math.MaxUint64, 4)
		assert.ErrorIs(t, err, ErrExecutionFailed)
		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, StatusAllocFailed, execErr.Status)
	})

	t.Run("non-status failure", func(t *testing.T) {
		cause := errors.New("driver unloaded")
		h := New(&fakeDriver{heuristicErr: cause})
		_, err := h.Tune(p, math.MaxUint64, 4)
		assert.ErrorIs(t, err, ErrExecutionFailed)
		assert.ErrorIs(t, err, cause)
	})
}

func TestTune_Idempotent(t *testing.T) {
	driver := &fakeDriver{results: []HeuristicResult{result(1, 300), result(2, 100), result(3, 200)}}
	h := New(driver)
	p := newTestProblem(t, 32, 32, 32)

	first, err := h.Tune(p, 250, 8)
	require.NoError(t, err)
	second, err := h.Tune(p, 250, 8)
	require.NoError(t, err)
	for _, set := range [][]Candidate{first, second} {
		require.NotEmpty(t, set)
		for _, c := range set {
			assert.LessOrEqual(t, c.WorkspaceSize(), uint64(250))
		}
	}
}

func TestTune_ClosedHandlePanics(t *testing.T) {
	h := New(&fakeDriver{results: []HeuristicResult{result(1, 0)}})
	h.Close()
	assert.Panics(t, func() {
		_, _ = h.Tune(newTestProblem(t, 4, 4, 4), 0, 1)
	})
}

// leakyDriver returns its results verbatim, whatever the limit.
type leakyDriver struct {
	results []HeuristicResult
}

func (d *leakyDriver) Heuristic(*Problem, uint64, int) ([]HeuristicResult, error) {
	return d.results, nil
}

func (d *leakyDriver) MatMul(*Problem, Algo, RawArgs, Stream) error { return nil }
