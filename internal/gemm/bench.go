package gemm

import (
	"context"
	"slices"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fxnlabs/gemm-tuner/internal/gpu"
	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// BenchOptions controls Bench.
type BenchOptions struct {
	// Iterations is the number of timed executions per candidate.
	Iterations int
	// Warmup executions run once per stream before timing starts.
	Warmup int
	// Streams is the number of streams iterations are spread over.
	Streams int
	// Progress, when set, is called after every enqueued iteration. It may be
	// called from several goroutines.
	Progress func()
}

// BenchResult is the timing of one candidate.
type BenchResult struct {
	Candidate  lt.Candidate
	Iterations int
	Elapsed    time.Duration
	GFLOPS     float64
}

// Bench times every tuned candidate of p, which must use float32 scaling, and
// returns them fastest first. Operands are random.
func (r *Runner) Bench(ctx context.Context, p *lt.Problem, opts BenchOptions) ([]BenchResult, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = 10
	}
	opts.Streams = max(opts.Streams, 1)

	candidates, err := r.Tune(ctx, p)
	if err != nil {
		return nil, err
	}

	results := make([]BenchResult, 0, len(candidates))
	for _, cand := range candidates {
		res, err := r.benchCandidate(ctx, p, cand, opts)
		if err != nil {
			return nil, pkgerrors.WithMessagef(err, "benchmarking %s", cand)
		}
		r.logger.Info("Benchmarked candidate",
			zap.Stringer("problem", p),
			zap.Stringer("candidate", cand),
			zap.Int("iterations", res.Iterations),
			zap.Duration("elapsed", res.Elapsed),
			zap.Float64("gflops", res.GFLOPS))
		results = append(results, res)
	}
	slices.SortStableFunc(results, func(a, b BenchResult) int {
		switch {
		case a.GFLOPS > b.GFLOPS:
			return -1
		case a.GFLOPS < b.GFLOPS:
			return 1
		}
		return 0
	})
	return results, nil
}

// lane is the per-stream state of a benchmark: its own output and workspace,
// sharing the read-only inputs.
type lane struct {
	stream gpu.Stream
	d, ws  *gpu.Buffer
}

func (r *Runner) benchCandidate(ctx context.Context, p *lt.Problem, cand lt.Candidate, opts BenchOptions) (res BenchResult, err error) {
	res.Candidate = cand

	var buffers []*gpu.Buffer
	defer func() {
		for _, buf := range buffers {
			err = multierr.Append(err, buf.Free())
		}
	}()
	var streams []gpu.Stream
	defer func() {
		for _, s := range streams {
			err = multierr.Append(err, s.Destroy())
		}
	}()
	newStream := func() (gpu.Stream, error) {
		s, err := r.backend.NewStream()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "creating stream")
		}
		streams = append(streams, s)
		return s, nil
	}
	alloc := func(size uint64) (*gpu.Buffer, error) {
		buf, err := gpu.Alloc(r.backend, size)
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, buf)
		return buf, nil
	}

	setup, err := newStream()
	if err != nil {
		return res, err
	}
	a, err := gpu.Upload(r.backend, RandomMatrix(int(p.A().Elements()), 1), setup)
	if err != nil {
		return res, err
	}
	buffers = append(buffers, a)
	b, err := gpu.Upload(r.backend, RandomMatrix(int(p.B().Elements()), 2), setup)
	if err != nil {
		return res, err
	}
	buffers = append(buffers, b)
	if err := setup.Synchronize(); err != nil {
		return res, err
	}

	lanes := make([]lane, opts.Streams)
	for i := range lanes {
		if lanes[i].stream, err = newStream(); err != nil {
			return res, err
		}
		if lanes[i].d, err = alloc(p.D().Bytes()); err != nil {
			return res, err
		}
		if lanes[i].ws, err = alloc(cand.WorkspaceSize()); err != nil {
			return res, err
		}
	}
	run := func(l lane) error {
		return lt.MatMul(r.handle, p, cand, lt.Args[float32]{
			A: a.Ptr(), B: b.Ptr(), D: l.d.Ptr(),
			Alpha: 1, Workspace: l.ws.Workspace(),
		}, l.stream)
	}

	for _, l := range lanes {
		for range opts.Warmup {
			if err := run(l); err != nil {
				return res, err
			}
		}
		if err := l.stream.Synchronize(); err != nil {
			return res, err
		}
	}

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	for i, l := range lanes {
		// Spread iterations evenly; the first lanes take the remainder.
		n := opts.Iterations / len(lanes)
		if i < opts.Iterations%len(lanes) {
			n++
		}
		eg.Go(func() error {
			for range n {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if err := run(l); err != nil {
					return err
				}
				if opts.Progress != nil {
					opts.Progress()
				}
			}
			return l.stream.Synchronize()
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}
	res.Elapsed = time.Since(start)
	res.Iterations = opts.Iterations
	res.GFLOPS = gflops(p.Flops()*float64(opts.Iterations), res.Elapsed)
	return res, nil
}
