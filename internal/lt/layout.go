package lt

import (
	"fmt"
	"math"
)

// Layout holds the caller-supplied facts describing one operand.
// It is validated by NewMatrix.
type Layout struct {
	Rows, Cols int
	// LD is the leading dimension: elements between consecutive rows for
	// RowMajor, between consecutive columns for ColMajor.
	LD       int
	Order    Order
	DataType DataType
	// Batch is the number of matrices; 0 is treated as 1.
	Batch int
	// BatchStride is the element offset between consecutive batch slices.
	// It must be 0 when Batch is 1.
	BatchStride int64
}

// Matrix is a validated, immutable matrix layout descriptor.
type Matrix struct {
	l Layout
}

// NewMatrix validates l and returns the descriptor. Errors match ErrInvalidLayout.
func NewMatrix(l Layout) (*Matrix, error) {
	if l.Batch == 0 {
		l.Batch = 1
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLayout, err)
	}
	return &Matrix{l: l}, nil
}

// MustMatrix is like NewMatrix but panics on error. Meant for constant layouts.
func MustMatrix(l Layout) *Matrix {
	m, err := NewMatrix(l)
	if err != nil {
		panic(err)
	}
	return m
}

func (l Layout) validate() error {
	if l.Rows < 1 || l.Cols < 1 {
		return fmt.Errorf("rows and cols must be positive, got %dx%d", l.Rows, l.Cols)
	}
	if !l.DataType.Valid() {
		return fmt.Errorf("unknown data type %s", l.DataType)
	}
	var extent int
	switch l.Order {
	case RowMajor:
		extent = l.Cols
	case ColMajor:
		extent = l.Rows
	default:
		return fmt.Errorf("unknown order %s", l.Order)
	}
	if l.LD < extent {
		return fmt.Errorf("leading dimension %d smaller than %s extent %d", l.LD, l.Order, extent)
	}
	if l.Batch < 1 {
		return fmt.Errorf("batch count must be >= 1, got %d", l.Batch)
	}
	// Every byte offset of the matrix must fit in an int64.
	limit := int64(math.MaxInt64) / int64(l.DataType.Size())
	outer, inner := l.outerInner()
	if int64(inner) > limit || outer > 1 && int64(l.LD) > (limit-int64(inner))/int64(outer-1) {
		return fmt.Errorf("leading dimension %d overflows the addressable range", l.LD)
	}
	if l.Batch == 1 {
		if l.BatchStride != 0 {
			return fmt.Errorf("batch stride %d declared for a non-batched matrix", l.BatchStride)
		}
		return nil
	}
	footprint := l.sliceElements()
	if l.BatchStride < footprint {
		return fmt.Errorf("batch stride %d smaller than slice footprint %d", l.BatchStride, footprint)
	}
	if l.BatchStride > (limit-footprint)/int64(l.Batch-1) {
		return fmt.Errorf("batch stride %d over %d slices overflows the addressable range", l.BatchStride, l.Batch)
	}
	return nil
}

// outerInner returns the number of leading-dimension strides and the
// contiguous extent of one slice.
func (l Layout) outerInner() (outer, inner int) {
	if l.Order == ColMajor {
		return l.Cols, l.Rows
	}
	return l.Rows, l.Cols
}

// sliceElements is the span of one batch slice, in elements.
func (l Layout) sliceElements() int64 {
	outer, inner := l.outerInner()
	return int64(outer-1)*int64(l.LD) + int64(inner)
}

func (m *Matrix) Rows() int { return m.l.Rows }
func (m *Matrix) Cols() int { return m.l.Cols }
func (m *Matrix) LD() int { return m.l.LD }
func (m *Matrix) Order() Order { return m.l.Order }
func (m *Matrix) DataType() DataType { return m.l.DataType }
func (m *Matrix) Batch() int { return m.l.Batch }
func (m *Matrix) BatchStride() int64 { return m.l.BatchStride }
func (m *Matrix) Layout() Layout { return m.l }

// Elements is the number of addressable elements spanned by all batch slices.
func (m *Matrix) Elements() int64 {
	return int64(m.l.Batch-1)*m.l.BatchStride + m.l.sliceElements()
}

// Bytes is the size of device memory a buffer must have to hold the matrix.
func (m *Matrix) Bytes() uint64 {
	return uint64(m.Elements()) * uint64(m.l.DataType.Size())
}

// Offset returns the element offset of (row, col) in batch slice b.
func (m *Matrix) Offset(b, row, col int) int64 {
	off := int64(b) * m.l.BatchStride
	if m.l.Order == RowMajor {
		return off + int64(row)*int64(m.l.LD) + int64(col)
	}
	return off + int64(col)*int64(m.l.LD) + int64(row)
}

func (m *Matrix) String() string {
	s := fmt.Sprintf("%s[%dx%d ld=%d %s]", m.l.DataType, m.l.Rows, m.l.Cols, m.l.LD, m.l.Order)
	if m.l.Batch > 1 {
		s += fmt.Sprintf("x%d/%d", m.l.Batch, m.l.BatchStride)
	}
	return s
}
