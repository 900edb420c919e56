package lt

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gomlx/exceptions"
)

// Args are the operands of one MatMul call. A, B, C and D must address device
// memory sized for their layouts; this is not checked. C is not read when Beta
// is zero and may then be 0.
type Args[T Scalar] struct {
	A, B, C, D  DevicePtr
	Alpha, Beta T
	Workspace   Workspace
}

// MatMul enqueues D = alpha*(A@B) + beta*C on stream using candidate c, which
// must have been tuned for p. It returns once the work is enqueued; call
// stream.Synchronize to wait for the result.
//
// A workspace smaller than c.WorkspaceSize() fails with
// *InsufficientWorkspaceError before anything is enqueued. The same error is
// returned when the library itself rejects the workspace.
func MatMul[T Scalar](h *Handle, p *Problem, c Candidate, args Args[T], stream Stream) error {
	h.mustBeOpen("MatMul")
	if p == nil || stream == nil {
		exceptions.Panicf("lt.MatMul: nil problem or stream")
	}
	if !c.bound {
		exceptions.Panicf("lt.MatMul: candidate was not produced by Tune")
	}
	if c.fingerprint != p.Fingerprint() {
		exceptions.Panicf("lt.MatMul: candidate tuned for problem %016x used with problem %016x", c.fingerprint, p.Fingerprint())
	}
	if scale := p.Desc().ScaleType(); ScalarType[T]() != scale {
		return &UnsupportedError{
			Reason: fmt.Sprintf("%s coefficients given for scale type %s", ScalarType[T](), scale),
		}
	}
	if args.Workspace.Size < c.workspaceSize {
		return &InsufficientWorkspaceError{Required: c.workspaceSize, Provided: args.Workspace.Size}
	}

	alpha, beta := args.Alpha, args.Beta
	raw := RawArgs{
		A:          args.A,
		B:          args.B,
		C:          args.C,
		D:          args.D,
		Alpha:      unsafe.Pointer(&alpha),
		Beta:       unsafe.Pointer(&beta),
		BetaIsZero: beta == 0,
		Workspace:  args.Workspace,
	}
	if raw.BetaIsZero && raw.C == 0 {
		// The library still wants a valid C descriptor address.
		raw.C = raw.D
	}
	if err := h.driver.MatMul(p, c.algo, raw, stream); err != nil {
		if errors.Is(err, StatusInsufficientWork) {
			return &InsufficientWorkspaceError{Required: c.workspaceSize, Provided: args.Workspace.Size}
		}
		return classify("matmul", err)
	}
	return nil
}
