package gpu

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

const defaultCPUDeviceMemory = 8 << 30 // 8GiB

// CPUOptions configures the CPU backend.
type CPUOptions struct {
	// Parallelism is the number of worker slots; 0 means GOMAXPROCS.
	Parallelism int
	// DeviceMemory caps the emulated device memory; 0 means 8GiB.
	DeviceMemory uint64
	// Kernels restricts the algorithm families offered by the heuristic;
	// empty means AllKernels.
	Kernels []Kernel
}

// CPUBackend implements Backend on the host. Device memory is an arena of
// pinned host allocations, streams are ordered goroutine queues, and the
// algorithm library is a set of host GEMM kernels ranked by a cost model.
type CPUBackend struct {
	logger      *zap.Logger
	opts        CPUOptions
	mem         *arena
	initialized bool
}

// NewCPUBackend creates a new CPU backend instance
func NewCPUBackend(logger *zap.Logger, opts CPUOptions) *CPUBackend {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opts.DeviceMemory == 0 {
		opts.DeviceMemory = defaultCPUDeviceMemory
	}
	if len(opts.Kernels) == 0 {
		opts.Kernels = AllKernels
	}
	return &CPUBackend{
		logger: logger.Named("cpu"),
		opts:   opts,
		mem:    newArena(opts.DeviceMemory),
	}
}

func (c *CPUBackend) Name() string { return "cpu" }

// Initialize prepares the CPU backend for use
func (c *CPUBackend) Initialize() error {
	if c.initialized {
		return nil
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized",
		zap.Int("parallelism", c.opts.Parallelism),
		zap.Uint64("device_memory", c.opts.DeviceMemory),
		zap.Stringers("kernels", c.opts.Kernels))
	return nil
}

// Cleanup releases the backend. Outstanding allocations are reported but
// left to the garbage collector.
func (c *CPUBackend) Cleanup() error {
	if used, _ := c.mem.stats(); used > 0 {
		c.logger.Warn("CPU backend cleaned up with live allocations", zap.Uint64("bytes", used))
	}
	c.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for CPU
func (c *CPUBackend) GetDeviceInfo() DeviceInfo {
	used, capacity := c.mem.stats()
	return DeviceInfo{
		Name:              fmt.Sprintf("CPU (%s, %d slots)", runtime.GOARCH, c.opts.Parallelism),
		TotalMemory:       int64(capacity),
		AvailableMemory:   int64(capacity - used),
		ComputeCapability: cpuFeatures(),
		DriverVersion:     runtime.Version(),
	}
}

// cpuFeatures lists the SIMD features relevant to GEMM kernels.
func cpuFeatures() string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{{"avx", cpu.X86.HasAVX}, {"avx2", cpu.X86.HasAVX2}, {"fma", cpu.X86.HasFMA}, {"avx512f", cpu.X86.HasAVX512F}} {
			if f.ok {
				features = append(features, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fphp")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "sve")
		}
	}
	if len(features) == 0 {
		return "N/A"
	}
	return strings.Join(features, "+")
}

func (c *CPUBackend) Malloc(bytes uint64) (lt.DevicePtr, error) {
	return c.mem.alloc(bytes)
}

func (c *CPUBackend) Free(ptr lt.DevicePtr) error {
	return c.mem.free(ptr)
}

func (c *CPUBackend) NewStream() (Stream, error) {
	return newHostStream(c), nil
}

func (c *CPUBackend) stream(s lt.Stream) (*hostStream, error) {
	hs, ok := s.(*hostStream)
	if !ok || hs.owner != c {
		return nil, errors.Errorf("stream %T does not belong to the CPU backend", s)
	}
	return hs, nil
}

func (c *CPUBackend) CopyToDevice(dst lt.DevicePtr, src []byte, stream Stream) error {
	hs, err := c.stream(stream)
	if err != nil {
		return err
	}
	mem, err := c.mem.resolve(dst, uint64(len(src)))
	if err != nil {
		return err
	}
	return hs.enqueue(func() { copy(mem, src) })
}

func (c *CPUBackend) CopyToHost(dst []byte, src lt.DevicePtr, stream Stream) error {
	hs, err := c.stream(stream)
	if err != nil {
		return err
	}
	mem, err := c.mem.resolve(src, uint64(len(dst)))
	if err != nil {
		return err
	}
	return hs.enqueue(func() { copy(dst, mem) })
}

// ReferenceGemm enqueues the plain row-major float32 GEMM.
func (c *CPUBackend) ReferenceGemm(m, k, n int, alpha float32, a, b lt.DevicePtr, beta float32, cPtr lt.DevicePtr, stream Stream) error {
	hs, err := c.stream(stream)
	if err != nil {
		return err
	}
	if m <= 0 || k <= 0 || n <= 0 {
		return errors.Errorf("invalid GEMM dimensions m=%d k=%d n=%d", m, k, n)
	}
	aMem, err := c.mem.resolve(a, uint64(m*k*4))
	if err != nil {
		return errors.Wrap(err, "matrix A")
	}
	bMem, err := c.mem.resolve(b, uint64(k*n*4))
	if err != nil {
		return errors.Wrap(err, "matrix B")
	}
	cMem, err := c.mem.resolve(cPtr, uint64(m*n*4))
	if err != nil {
		return errors.Wrap(err, "matrix C")
	}
	c.logger.Debug("Enqueueing reference GEMM", zap.Int("m", m), zap.Int("k", k), zap.Int("n", n))
	return hs.enqueue(func() {
		referenceGemm(view[float32](aMem), view[float32](bMem), view[float32](cMem), m, k, n, alpha, beta, c.opts.Parallelism)
	})
}

// Heuristic implements lt.Driver.
func (c *CPUBackend) Heuristic(p *lt.Problem, workspaceLimit uint64, requested int) ([]lt.HeuristicResult, error) {
	if err := supportCheck(p); err != nil {
		return nil, err
	}
	var results []lt.HeuristicResult
	for _, r := range heuristic(p, c.opts.Kernels, c.opts.Parallelism) {
		if len(results) == requested {
			break
		}
		if r.workspace > workspaceLimit {
			continue
		}
		results = append(results, lt.HeuristicResult{
			Algo:          r.algo.encode(),
			WorkspaceSize: r.workspace,
			Waves:         float32(r.waves),
			Status:        lt.StatusSuccess,
		})
	}
	if len(results) == 0 {
		return nil, lt.StatusNotSupported
	}
	return results, nil
}

// MatMul implements lt.Driver. Operands are resolved when the call is made,
// and the kernel runs when the stream reaches it.
func (c *CPUBackend) MatMul(p *lt.Problem, algo lt.Algo, args lt.RawArgs, stream lt.Stream) error {
	if err := supportCheck(p); err != nil {
		return err
	}
	decoded, ok := decodeCPUAlgo(algo)
	if !ok {
		return lt.StatusInvalidValue
	}
	hs, err := c.stream(stream)
	if err != nil {
		return lt.StatusInvalidValue
	}
	if args.Workspace.Size < decoded.workspaceBytes(p) {
		return lt.StatusInsufficientWork
	}

	switch p.A().DataType() {
	case lt.R32F:
		g, ws, err := resolveGemm[float32](c.mem, p, decoded, args)
		if err != nil {
			c.logger.Debug("Rejecting matmul operands", zap.Error(err))
			return lt.StatusInvalidValue
		}
		return hs.enqueue(func() { run(g, ws, decoded) })
	case lt.R64F:
		g, ws, err := resolveGemm[float64](c.mem, p, decoded, args)
		if err != nil {
			c.logger.Debug("Rejecting matmul operands", zap.Error(err))
			return lt.StatusInvalidValue
		}
		return hs.enqueue(func() { run(g, ws, decoded) })
	}
	return lt.StatusNotSupported
}

func resolveGemm[T lt.Scalar](mem *arena, p *lt.Problem, algo cpuAlgo, args lt.RawArgs) (*gemm[T], []T, error) {
	g := &gemm[T]{
		m: p.M(), n: p.N(), k: p.K(), batch: p.Batch(),
		oa: operandOf(p.A()), ob: operandOf(p.B()), oc: operandOf(p.C()), od: operandOf(p.D()),
		alpha:    *(*T)(args.Alpha),
		beta:     *(*T)(args.Beta),
		betaZero: args.BetaIsZero,
	}
	operands := []struct {
		name string
		ptr  lt.DevicePtr
		m    *lt.Matrix
		dst  *[]T
		skip bool
	}{
		{"A", args.A, p.A(), &g.a, false},
		{"B", args.B, p.B(), &g.b, false},
		{"C", args.C, p.C(), &g.c, args.BetaIsZero},
		{"D", args.D, p.D(), &g.d, false},
	}
	for _, op := range operands {
		if op.skip {
			continue
		}
		raw, err := mem.resolve(op.ptr, op.m.Bytes())
		if err != nil {
			return nil, nil, errors.Wrapf(err, "matrix %s", op.name)
		}
		*op.dst = view[T](raw)
	}

	var ws []T
	if n := algo.workspaceElements(p); n > 0 {
		raw, err := mem.resolve(args.Workspace.Ptr, algo.workspaceBytes(p))
		if err != nil {
			return nil, nil, errors.Wrap(err, "workspace")
		}
		ws = view[T](raw)
	}
	return g, ws, nil
}

func run[T lt.Scalar](g *gemm[T], ws []T, algo cpuAlgo) {
	switch algo.kernel {
	case KernelDirect:
		runDirect(g, algo.slots)
	case KernelPacked:
		runPacked(g, ws, algo.slots)
	case KernelTiled:
		runTiled(g, ws, algo.tileM, algo.tileN, algo.slots)
	}
}
