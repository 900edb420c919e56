// Package gemm runs tuned matrix multiplications from host memory: it builds
// problems from shapes, tunes them once per shape, manages device buffers and
// streams, and checks tuned results against the backend's reference path.
package gemm

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/config"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
	"github.com/fxnlabs/gemm-tuner/internal/lt"
	"github.com/fxnlabs/gemm-tuner/internal/metrics"
)

// ErrNoAlgorithm is returned when tuning yields no candidate within the
// workspace limit or the tuning timeout.
var ErrNoAlgorithm = errors.New("no eligible algorithm")

// Options bound the tuning step.
type Options struct {
	// WorkspaceLimit is the largest scratch buffer, in bytes, a candidate may need.
	WorkspaceLimit uint64
	// MaxCandidates is the number of ranked candidates kept per shape.
	MaxCandidates int
	// Timeout bounds one heuristic search; 0 disables it.
	Timeout time.Duration
}

// OptionsFromConfig reads the tuner section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkspaceLimit: uint64(cfg.Tuner.WorkspaceLimit),
		MaxCandidates:  cfg.Tuner.MaxCandidates,
		Timeout:        cfg.Tuner.Timeout,
	}
}

// Runner executes tuned GEMMs on one backend. It is safe for concurrent use.
type Runner struct {
	logger  *zap.Logger
	backend gpu.Backend
	handle  *lt.Handle
	opts    Options

	cacheMu sync.RWMutex
	cache   map[uint64][]lt.Candidate

	// workspace is reused across Execute calls and grown on demand.
	wsMu      sync.Mutex
	workspace *gpu.Buffer

	// searches tracks heuristic searches, including abandoned ones.
	searches sync.WaitGroup
}

// NewRunner returns a Runner issuing work through handle, which must be bound
// to backend.
func NewRunner(logger *zap.Logger, backend gpu.Backend, handle *lt.Handle, opts Options) *Runner {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 1
	}
	return &Runner{
		logger:  logger.Named("gemm"),
		backend: backend,
		handle:  handle,
		opts:    opts,
		cache:   make(map[uint64][]lt.Candidate),
	}
}

func (r *Runner) Backend() gpu.Backend { return r.backend }

// Close waits for in-flight heuristic searches and releases the shared
// workspace. The handle must stay open until Close returns.
func (r *Runner) Close() error {
	r.searches.Wait()
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	err := r.workspace.Free()
	r.workspace = nil
	return err
}

// Plan builds the problem for contiguous row-major float32 operands with D
// written in place of C. Batched shapes store slices back to back.
func Plan(shape config.Shape) (*lt.Problem, error) {
	return PlanFor[float32](shape)
}

// PlanFor is Plan for element type T.
func PlanFor[T lt.Scalar](shape config.Shape) (*lt.Problem, error) {
	dt := lt.ScalarType[T]()
	compute := lt.Compute32F
	if dt == lt.R64F {
		compute = lt.Compute64F
	}
	layout := func(rows, cols int) lt.Layout {
		l := lt.Layout{Rows: rows, Cols: cols, LD: cols, Order: lt.RowMajor, DataType: dt, Batch: shape.Batch}
		if shape.Batch > 1 {
			l.BatchStride = int64(rows) * int64(cols)
		}
		return l
	}
	a, err := lt.NewMatrix(layout(shape.M, shape.K))
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "matrix A")
	}
	b, err := lt.NewMatrix(layout(shape.K, shape.N))
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "matrix B")
	}
	c, err := lt.NewMatrix(layout(shape.M, shape.N))
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "matrix C")
	}
	return lt.NewProblem(lt.NewMatMulDesc(compute, dt), a, b, c, c)
}

// Tune returns the ranked candidates for p, best first. Results are cached
// per problem fingerprint and callers get their own copy. An empty search or
// a timeout yields ErrNoAlgorithm.
func (r *Runner) Tune(ctx context.Context, p *lt.Problem) ([]lt.Candidate, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[p.Fingerprint()]
	r.cacheMu.RUnlock()
	if ok {
		metrics.TuningCache.WithLabelValues("hit").Inc()
		return slices.Clone(cached), nil
	}
	metrics.TuningCache.WithLabelValues("miss").Inc()

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	type tuned struct {
		candidates []lt.Candidate
		err        error
	}
	// The heuristic search cannot be interrupted; on timeout it finishes in
	// the background and its result is dropped. Close waits for it.
	done := make(chan tuned, 1)
	start := time.Now()
	r.searches.Add(1)
	go func() {
		defer r.searches.Done()
		candidates, err := r.handle.Tune(p, r.opts.WorkspaceLimit, r.opts.MaxCandidates)
		done <- tuned{candidates, err}
	}()

	var res tuned
	select {
	case res = <-done:
	case <-ctx.Done():
		r.recordTune("timeout", start, 0)
		r.logger.Warn("Tuning abandoned", zap.Stringer("problem", p), zap.Error(ctx.Err()))
		return nil, pkgerrors.Wrapf(ErrNoAlgorithm, "tuning %s: %v", p, ctx.Err())
	}

	switch {
	case errors.Is(res.err, lt.ErrUnsupportedCombination):
		r.recordTune("unsupported", start, 0)
		return nil, pkgerrors.WithMessagef(res.err, "tuning %s", p)
	case res.err != nil:
		r.recordTune("error", start, 0)
		return nil, pkgerrors.WithMessagef(res.err, "tuning %s", p)
	case len(res.candidates) == 0:
		r.recordTune("empty", start, 0)
		return nil, pkgerrors.Wrapf(ErrNoAlgorithm, "tuning %s within %d bytes of workspace", p, r.opts.WorkspaceLimit)
	}
	r.recordTune("found", start, len(res.candidates))

	r.logger.Debug("Tuned problem",
		zap.Stringer("problem", p),
		zap.Int("candidates", len(res.candidates)),
		zap.Stringer("best", res.candidates[0]),
		zap.Duration("elapsed", time.Since(start)))

	r.cacheMu.Lock()
	r.cache[p.Fingerprint()] = slices.Clone(res.candidates)
	r.cacheMu.Unlock()
	return res.candidates, nil
}

func (r *Runner) recordTune(outcome string, start time.Time, candidates int) {
	metrics.TuneDuration.WithLabelValues(r.backend.Name()).Observe(float64(time.Since(start).Microseconds()) / 1000)
	metrics.TuneResults.WithLabelValues(r.backend.Name(), outcome).Inc()
	metrics.TuneCandidates.Set(float64(candidates))
}

// Operands are host copies of the storage of A, B and C for a problem.
// C may be nil when Beta is zero.
type Operands[T lt.Scalar] struct {
	A, B, C     []T
	Alpha, Beta T
}

// Report describes one execution.
type Report struct {
	Candidate lt.Candidate
	Duration  time.Duration
	GFLOPS    float64
	// Retried is set when the shared workspace had to grow mid-call.
	Retried bool
}

// Execute tunes p and runs the best candidate on ops, returning the storage
// of D.
func Execute[T lt.Scalar](ctx context.Context, r *Runner, p *lt.Problem, ops Operands[T]) ([]T, Report, error) {
	candidates, err := r.Tune(ctx, p)
	if err != nil {
		return nil, Report{}, err
	}
	return ExecuteWith(ctx, r, p, candidates[0], ops)
}

// ExecuteWith runs candidate c, which must come from Tune for p.
func ExecuteWith[T lt.Scalar](ctx context.Context, r *Runner, p *lt.Problem, c lt.Candidate, ops Operands[T]) (out []T, report Report, err error) {
	report.Candidate = c
	if err := checkOperands(p, ops); err != nil {
		return nil, report, err
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	// Buffers are released after the stream is destroyed, which drains it.
	var buffers []*gpu.Buffer
	defer func() {
		for _, buf := range buffers {
			err = multierr.Append(err, buf.Free())
		}
	}()
	stream, err := r.backend.NewStream()
	if err != nil {
		return nil, report, pkgerrors.Wrap(err, "creating stream")
	}
	defer func() { err = multierr.Append(err, stream.Destroy()) }()
	upload := func(name string, host []T) (*gpu.Buffer, error) {
		buf, err := gpu.Upload(r.backend, host, stream)
		if err != nil {
			return nil, pkgerrors.WithMessagef(err, "matrix %s", name)
		}
		buffers = append(buffers, buf)
		return buf, nil
	}
	alloc := func(name string, size uint64) (*gpu.Buffer, error) {
		buf, err := gpu.Alloc(r.backend, size)
		if err != nil {
			return nil, pkgerrors.WithMessagef(err, "matrix %s", name)
		}
		buffers = append(buffers, buf)
		return buf, nil
	}

	a, err := upload("A", ops.A)
	if err != nil {
		return nil, report, err
	}
	b, err := upload("B", ops.B)
	if err != nil {
		return nil, report, err
	}
	var cBuf, dBuf *gpu.Buffer
	if ops.C != nil {
		if cBuf, err = upload("C", ops.C); err != nil {
			return nil, report, err
		}
	}
	switch {
	case p.InPlace() && cBuf != nil:
		dBuf = cBuf
	default:
		if dBuf, err = alloc("D", p.D().Bytes()); err != nil {
			return nil, report, err
		}
	}
	args := lt.Args[T]{A: a.Ptr(), B: b.Ptr(), D: dBuf.Ptr(), Alpha: ops.Alpha, Beta: ops.Beta}
	if cBuf != nil {
		args.C = cBuf.Ptr()
	}

	workspace, err := launch(r, p, c, args, stream, &report)
	if err != nil {
		metrics.MatMulExecutions.WithLabelValues(r.backend.Name(), "error").Inc()
		return nil, report, err
	}
	report.GFLOPS = gflops(p.Flops(), report.Duration)

	metrics.MatMulExecutions.WithLabelValues(r.backend.Name(), "ok").Inc()
	metrics.MatMulDuration.Observe(float64(report.Duration.Microseconds()) / 1000)
	metrics.MatMulGFLOPS.Set(report.GFLOPS)
	metrics.WorkspaceBytes.Set(float64(workspace))
	info := r.backend.GetDeviceInfo()
	metrics.DeviceMemoryUsedBytes.Set(float64(info.TotalMemory - info.AvailableMemory))

	out, err = gpu.Download[T](r.backend, dBuf.Ptr(), int(p.D().Elements()), stream)
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}

// launch runs c on the shared workspace and waits for the stream to drain,
// timing the call into report,
// growing the workspace and retrying once when it is too small. wsMu is held
// until the kernel has finished; uploads and downloads run outside it. It
// returns the size of the workspace that was used.
func launch[T lt.Scalar](r *Runner, p *lt.Problem, c lt.Candidate, args lt.Args[T], stream gpu.Stream, report *Report) (uint64, error) {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if r.workspace != nil {
		args.Workspace = r.workspace.Workspace()
	}

	start := time.Now()
	err := lt.MatMul(r.handle, p, c, args, stream)
	var short *lt.InsufficientWorkspaceError
	if errors.As(err, &short) && short.Required > short.Provided {
		r.logger.Debug("Growing workspace", zap.Uint64("required", short.Required), zap.Uint64("provided", short.Provided))
		if err := r.growWorkspace(short.Required); err != nil {
			return 0, err
		}
		args.Workspace = r.workspace.Workspace()
		report.Retried = true
		err = lt.MatMul(r.handle, p, c, args, stream)
	}
	if err != nil {
		return 0, pkgerrors.WithMessagef(err, "executing %s", p)
	}
	if err := stream.Synchronize(); err != nil {
		return 0, pkgerrors.Wrap(err, "synchronize")
	}
	report.Duration = time.Since(start)
	return args.Workspace.Size, nil
}

// growWorkspace replaces the shared workspace with one of at least size
// bytes. Callers hold wsMu.
func (r *Runner) growWorkspace(size uint64) error {
	if err := r.workspace.Free(); err != nil {
		return pkgerrors.Wrap(err, "releasing workspace")
	}
	r.workspace = nil
	buf, err := gpu.Alloc(r.backend, size)
	if err != nil {
		return pkgerrors.WithMessage(err, "workspace")
	}
	r.workspace = buf
	return nil
}

func checkOperands[T lt.Scalar](p *lt.Problem, ops Operands[T]) error {
	for _, op := range []struct {
		name string
		m    *lt.Matrix
		host []T
	}{{"A", p.A(), ops.A}, {"B", p.B(), ops.B}, {"C", p.C(), ops.C}} {
		if op.name == "C" && op.host == nil {
			if ops.Beta != 0 {
				return pkgerrors.New("matrix C is required when beta is not zero")
			}
			continue
		}
		if int64(len(op.host)) != op.m.Elements() {
			return pkgerrors.Errorf("matrix %s: got %d elements, layout %s spans %d", op.name, len(op.host), op.m, op.m.Elements())
		}
	}
	return nil
}

// Multiply computes the row-major product of a (m×k) and b (k×n).
func (r *Runner) Multiply(ctx context.Context, a, b []float32, m, k, n int) ([]float32, error) {
	p, err := Plan(config.Shape{M: m, K: k, N: n})
	if err != nil {
		return nil, err
	}
	d, report, err := Execute(ctx, r, p, Operands[float32]{A: a, B: b, Alpha: 1})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Multiply completed",
		zap.Int("m", m), zap.Int("k", k), zap.Int("n", n),
		zap.Stringer("candidate", report.Candidate),
		zap.Duration("duration", report.Duration),
		zap.Float64("gflops", report.GFLOPS))
	return d, nil
}

func gflops(flops float64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return flops / d.Seconds() / 1e9
}
