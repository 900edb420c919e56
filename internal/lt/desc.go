package lt

import "fmt"

// MatMulDesc describes the multiplication itself: the accumulation precision
// and the type of the alpha/beta coefficients. Whether the pair is runnable
// against given matrices is decided by the library at tuning time.
type MatMulDesc struct {
	compute ComputeType
	scale   DataType
}

func NewMatMulDesc(compute ComputeType, scale DataType) *MatMulDesc {
	return &MatMulDesc{compute: compute, scale: scale}
}

func (d *MatMulDesc) ComputeType() ComputeType { return d.compute }
func (d *MatMulDesc) ScaleType() DataType { return d.scale }

func (d *MatMulDesc) String() string {
	return fmt.Sprintf("%s/%s", d.compute, d.scale)
}
