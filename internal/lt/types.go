package lt

import "fmt"

// DataType tags the element type of a matrix or of the alpha/beta scalars.
type DataType int

const (
	DataTypeInvalid DataType = iota
	R16F
	R32F
	R64F
	R8I
	R32I
)

// Size returns the size in bytes of one element, or 0 for an invalid tag.
func (t DataType) Size() int {
	switch t {
	case R8I:
		return 1
	case R16F:
		return 2
	case R32F, R32I:
		return 4
	case R64F:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is a known element type.
func (t DataType) Valid() bool {
	return t.Size() > 0
}

func (t DataType) String() string {
	switch t {
	case R16F:
		return "R16F"
	case R32F:
		return "R32F"
	case R64F:
		return "R64F"
	case R8I:
		return "R8I"
	case R32I:
		return "R32I"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// ComputeType is the precision used to accumulate products.
type ComputeType int

const (
	ComputeInvalid ComputeType = iota
	Compute16F
	Compute32F
	Compute32FFastTF32
	Compute64F
	Compute32I
)

func (c ComputeType) String() string {
	switch c {
	case Compute16F:
		return "COMPUTE_16F"
	case Compute32F:
		return "COMPUTE_32F"
	case Compute32FFastTF32:
		return "COMPUTE_32F_FAST_TF32"
	case Compute64F:
		return "COMPUTE_64F"
	case Compute32I:
		return "COMPUTE_32I"
	default:
		return fmt.Sprintf("ComputeType(%d)", int(c))
	}
}

// Order is the memory order of a matrix.
type Order int

const (
	RowMajor Order = iota
	ColMajor
)

func (o Order) String() string {
	switch o {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// Scalar is the set of Go types usable as alpha/beta coefficients.
type Scalar interface {
	float32 | float64
}

// ScalarType returns the DataType matching the Go type T.
func ScalarType[T Scalar]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return R32F
	case float64:
		return R64F
	}
	return DataTypeInvalid
}
