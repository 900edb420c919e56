package lt

import (
	"sync"
)

// fakeDriver returns canned heuristic results and records MatMul calls.
type fakeDriver struct {
	mu sync.Mutex

	results      []HeuristicResult
	heuristicErr error
	// probeErr, when set, is returned for unlimited workspace queries.
	probeErr  error
	matmulErr error

	heuristicCalls []uint64
	matmuls        []fakeCall
}

type fakeCall struct {
	problem *Problem
	algo    Algo
	args    RawArgs
	alpha   float64
	beta    float64
}

func (f *fakeDriver) Heuristic(p *Problem, workspaceLimit uint64, requested int) ([]HeuristicResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heuristicCalls = append(f.heuristicCalls, workspaceLimit)
	if f.probeErr != nil && workspaceLimit == ^uint64(0) {
		return nil, f.probeErr
	}
	var out []HeuristicResult
	for _, r := range f.results {
		if r.WorkspaceSize <= workspaceLimit {
			out = append(out, r)
		}
	}
	if f.heuristicErr != nil {
		return nil, f.heuristicErr
	}
	if len(out) == 0 {
		return nil, StatusNotSupported
	}
	if len(out) > requested {
		out = out[:requested]
	}
	return out, nil
}

func (f *fakeDriver) MatMul(p *Problem, algo Algo, args RawArgs, stream Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matmulErr != nil {
		return f.matmulErr
	}
	call := fakeCall{problem: p, algo: algo, args: args}
	switch p.Desc().ScaleType() {
	case R32F:
		call.alpha = float64(*(*float32)(args.Alpha))
		call.beta = float64(*(*float32)(args.Beta))
	case R64F:
		call.alpha = *(*float64)(args.Alpha)
		call.beta = *(*float64)(args.Beta)
	}
	f.matmuls = append(f.matmuls, call)
	return nil
}

type fakeStream struct{}

func (fakeStream) Synchronize() error { return nil }

func algoN(n uint64) Algo {
	return NewAlgo([AlgoWords]uint64{n})
}

func result(n uint64, workspace uint64) HeuristicResult {
	return HeuristicResult{Algo: algoN(n), WorkspaceSize: workspace, Waves: float32(n), Status: StatusSuccess}
}

func f32Layout(rows, cols int) Layout {
	return Layout{Rows: rows, Cols: cols, LD: cols, Order: RowMajor, DataType: R32F, Batch: 1}
}

func newTestProblem(t interface{ Fatalf(string, ...any) }, m, k, n int) *Problem {
	a := MustMatrix(f32Layout(m, k))
	b := MustMatrix(f32Layout(k, n))
	c := MustMatrix(f32Layout(m, n))
	p, err := NewProblem(NewMatMulDesc(Compute32F, R32F), a, b, c, c)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	return p
}
