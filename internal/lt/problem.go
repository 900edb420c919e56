package lt

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/exceptions"
)

// Problem composes one MatMulDesc with the A, B, C and D layouts of
// D = alpha*(A@B) + beta*C. It borrows its descriptors; D may be the same
// *Matrix as C when the output overwrites C in place.
type Problem struct {
	desc        *MatMulDesc
	a, b, c, d  *Matrix
	fingerprint uint64
}

// NewProblem checks that the four layouts agree on M, N, K and batch count.
// Disagreements are returned as *ShapeMismatchError.
func NewProblem(desc *MatMulDesc, a, b, c, d *Matrix) (*Problem, error) {
	if desc == nil || a == nil || b == nil || c == nil || d == nil {
		exceptions.Panicf("lt.NewProblem: nil descriptor (desc=%v a=%v b=%v c=%v d=%v)", desc != nil, a != nil, b != nil, c != nil, d != nil)
	}
	checks := []ShapeMismatchError{
		{Left: "A.cols", LeftDim: a.Cols(), Right: "B.rows", RightDim: b.Rows()},
		{Left: "C.rows", LeftDim: c.Rows(), Right: "A.rows", RightDim: a.Rows()},
		{Left: "C.cols", LeftDim: c.Cols(), Right: "B.cols", RightDim: b.Cols()},
		{Left: "D.rows", LeftDim: d.Rows(), Right: "A.rows", RightDim: a.Rows()},
		{Left: "D.cols", LeftDim: d.Cols(), Right: "B.cols", RightDim: b.Cols()},
		{Left: "A.batch", LeftDim: a.Batch(), Right: "B.batch", RightDim: b.Batch()},
		{Left: "C.batch", LeftDim: c.Batch(), Right: "A.batch", RightDim: a.Batch()},
		{Left: "D.batch", LeftDim: d.Batch(), Right: "A.batch", RightDim: a.Batch()},
	}
	for _, check := range checks {
		if check.LeftDim != check.RightDim {
			mismatch := check
			return nil, &mismatch
		}
	}
	p := &Problem{desc: desc, a: a, b: b, c: c, d: d}
	p.fingerprint = p.hash()
	return p, nil
}

func (p *Problem) Desc() *MatMulDesc { return p.desc }
func (p *Problem) A() *Matrix { return p.a }
func (p *Problem) B() *Matrix { return p.b }
func (p *Problem) C() *Matrix { return p.c }
func (p *Problem) D() *Matrix { return p.d }

// M, N and K are the GEMM dimensions: A is MxK, B is KxN, D is MxN.
func (p *Problem) M() int { return p.a.Rows() }
func (p *Problem) N() int { return p.b.Cols() }
func (p *Problem) K() int { return p.a.Cols() }

// Batch is the batch count shared by all four matrices.
func (p *Problem) Batch() int { return p.a.Batch() }

// InPlace reports whether D and C share one layout descriptor.
func (p *Problem) InPlace() bool { return p.c == p.d }

// Flops is the number of floating point operations of one execution.
func (p *Problem) Flops() float64 {
	return 2 * float64(p.M()) * float64(p.N()) * float64(p.K()) * float64(p.Batch())
}

// Fingerprint identifies the problem shape. Problems built from identical
// facts share a fingerprint.
func (p *Problem) Fingerprint() uint64 { return p.fingerprint }

func (p *Problem) hash() uint64 {
	buf := make([]byte, 0, 8*(2+4*7))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.desc.compute))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.desc.scale))
	for _, m := range []*Matrix{p.a, p.b, p.c, p.d} {
		l := m.l
		for _, v := range []int64{int64(l.Rows), int64(l.Cols), int64(l.LD), int64(l.Order), int64(l.DataType), int64(l.Batch), l.BatchStride} {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	}
	return xxhash.Sum64(buf)
}

func (p *Problem) String() string {
	return fmt.Sprintf("matmul(%s) A=%s B=%s C=%s D=%s", p.desc, p.a, p.b, p.c, p.d)
}
