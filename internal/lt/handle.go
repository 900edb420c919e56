// Package lt is a typed, validated façade over a cuBLASLt-style matrix
// multiplication library.
//
// A multiplication D = alpha*(A@B) + beta*C is described by four Matrix
// layouts and a MatMulDesc, composed into a Problem. Handle.Tune asks the
// library's heuristic for candidate algorithms that fit a workspace budget,
// and MatMul enqueues the multiplication with one of them on a Stream.
//
//	a := lt.MustMatrix(lt.Layout{Rows: m, Cols: k, LD: k, DataType: lt.R32F})
//	...
//	p, err := lt.NewProblem(lt.NewMatMulDesc(lt.Compute32F, lt.R32F), a, b, c, c)
//	candidates, err := h.Tune(p, math.MaxUint64, 1)
//	err = lt.MatMul(h, p, candidates[0], lt.Args[float32]{...}, stream)
//
// Layouts, descriptors and problems are immutable and may be shared between
// goroutines. The package holds no locks and does no logging; ordering of
// device work is expressed only through streams.
package lt

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
)

// Handle owns a Driver. Calling methods on a closed Handle panics.
type Handle struct {
	driver Driver
	closed atomic.Bool
}

// New returns a Handle issuing calls to driver.
func New(driver Driver) *Handle {
	if driver == nil {
		exceptions.Panicf("lt.New: nil driver")
	}
	return &Handle{driver: driver}
}

// Close releases the handle. Tune and MatMul panic afterwards.
func (h *Handle) Close() {
	h.closed.Store(true)
}

func (h *Handle) mustBeOpen(op string) {
	if h == nil || h.closed.Load() {
		exceptions.Panicf("lt.%s: use of a released handle", op)
	}
}
