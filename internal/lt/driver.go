package lt

import "unsafe"

// DevicePtr is an address in device memory. This package never dereferences
// it; the driver and the caller are responsible for its size and liveness.
type DevicePtr uintptr

// Add returns p advanced by n bytes.
func (p DevicePtr) Add(n uint64) DevicePtr { return p + DevicePtr(n) }

// Stream is an ordered queue of device work.
type Stream interface {
	// Synchronize blocks until all work enqueued so far has completed.
	Synchronize() error
}

// Workspace is scratch device memory handed to one MatMul call.
type Workspace struct {
	Ptr  DevicePtr
	Size uint64
}

// HeuristicResult is one entry of the library's ranked algorithm list.
type HeuristicResult struct {
	Algo          Algo
	WorkspaceSize uint64
	// Waves is the library's estimated waves count, 0 when not reported.
	Waves  float32
	Status Status
}

// RawArgs is the unchecked boundary between MatMul and the driver. Alpha and
// Beta point at host scalars of the problem's scale type and are only valid
// until Driver.MatMul returns.
type RawArgs struct {
	A, B, C, D  DevicePtr
	Alpha, Beta unsafe.Pointer
	BetaIsZero  bool
	Workspace   Workspace
}

// Driver is the binding to the underlying linear algebra library. Errors
// should be (or wrap) a Status.
type Driver interface {
	// Heuristic returns up to requested algorithms for p, best first, that fit
	// in workspaceLimit bytes of scratch memory.
	Heuristic(p *Problem, workspaceLimit uint64, requested int) ([]HeuristicResult, error)

	// MatMul enqueues D = alpha*(A@B) + beta*C on stream using algo.
	MatMul(p *Problem, algo Algo, args RawArgs, stream Stream) error
}
