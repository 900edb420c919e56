package gpu

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// Kernel selects a family of host algorithms.
type Kernel int

const (
	// KernelDirect reads operands in place. Needs no workspace.
	KernelDirect Kernel = iota + 1
	// KernelPacked transposes B into the workspace once per batch.
	KernelPacked
	// KernelTiled packs A and B panels per tile and per worker slot.
	KernelTiled
)

func (k Kernel) String() string {
	switch k {
	case KernelDirect:
		return "direct"
	case KernelPacked:
		return "packed"
	case KernelTiled:
		return "tiled"
	default:
		return fmt.Sprintf("Kernel(%d)", int(k))
	}
}

// ParseKernel returns the kernel family named s.
func ParseKernel(s string) (Kernel, error) {
	for _, k := range AllKernels {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown CPU kernel %q", s)
}

// AllKernels lists every kernel family of the CPU backend.
var AllKernels = []Kernel{KernelDirect, KernelPacked, KernelTiled}

// tileShapes are the tileM×tileN configurations offered by KernelTiled.
var tileShapes = [][2]int{{16, 64}, {32, 32}, {64, 64}, {128, 64}, {64, 128}, {256, 32}}

// cpuAlgoTag marks algorithm blobs produced by this backend.
const cpuAlgoTag = 0x637075_6c74

// cpuAlgo is the decoded form of an lt.Algo produced by the CPU backend.
type cpuAlgo struct {
	kernel       Kernel
	tileM, tileN int
	slots        int
}

func (a cpuAlgo) encode() lt.Algo {
	return lt.NewAlgo([lt.AlgoWords]uint64{cpuAlgoTag, uint64(a.kernel), uint64(a.tileM), uint64(a.tileN), uint64(a.slots)})
}

func decodeCPUAlgo(algo lt.Algo) (cpuAlgo, bool) {
	data := algo.Data()
	if data[0] != cpuAlgoTag {
		return cpuAlgo{}, false
	}
	a := cpuAlgo{kernel: Kernel(data[1]), tileM: int(data[2]), tileN: int(data[3]), slots: int(data[4])}
	switch a.kernel {
	case KernelDirect, KernelPacked:
		return a, a.slots > 0
	case KernelTiled:
		return a, a.slots > 0 && a.tileM > 0 && a.tileN > 0
	}
	return cpuAlgo{}, false
}

// workspaceElements is the scratch size of a for p, in elements.
func (a cpuAlgo) workspaceElements(p *lt.Problem) int64 {
	switch a.kernel {
	case KernelPacked:
		return packedWorkspace(p.K(), p.N())
	case KernelTiled:
		return tiledWorkspace(p.K(), a.tileM, a.tileN, a.slots)
	}
	return 0
}

func (a cpuAlgo) workspaceBytes(p *lt.Problem) uint64 {
	return uint64(a.workspaceElements(p)) * uint64(p.A().DataType().Size())
}

// estimate returns the predicted cost (arbitrary units) and the number of
// waves of work a needs for p.
func (a cpuAlgo) estimate(p *lt.Problem) (cost float64, waves float64) {
	m, n, k, batch := float64(p.M()), float64(p.N()), float64(p.K()), float64(p.Batch())
	slots := float64(a.slots)
	switch a.kernel {
	case KernelDirect:
		waves = math.Ceil(m * batch / slots)
		return 3 * 2 * m * n * k * batch / slots, waves
	case KernelPacked:
		waves = math.Ceil(m * batch / slots)
		return 1.2*2*m*n*k*batch/slots + k*n*batch, waves
	case KernelTiled:
		tm, tn := float64(a.tileM), float64(a.tileN)
		tiles := batch * math.Ceil(m/tm) * math.Ceil(n/tn)
		waves = math.Ceil(tiles / slots)
		perTile := 2*tm*tn*k*(1+8/tm+8/tn) + (tm+tn)*k
		return waves * perTile, waves
	}
	return math.Inf(1), 0
}

// supportCheck returns StatusNotSupported unless all matrices and the scale
// type share one floating point type and the compute type matches it.
func supportCheck(p *lt.Problem) error {
	dt := p.A().DataType()
	for _, m := range []*lt.Matrix{p.B(), p.C(), p.D()} {
		if m.DataType() != dt {
			return lt.StatusNotSupported
		}
	}
	if p.Desc().ScaleType() != dt {
		return lt.StatusNotSupported
	}
	switch {
	case dt == lt.R32F && p.Desc().ComputeType() == lt.Compute32F:
		return nil
	case dt == lt.R64F && p.Desc().ComputeType() == lt.Compute64F:
		return nil
	}
	return lt.StatusNotSupported
}

type rankedAlgo struct {
	algo      cpuAlgo
	cost      float64
	waves     float64
	workspace uint64
}

// heuristic ranks the enabled kernels for p, cheapest first.
func heuristic(p *lt.Problem, kernels []Kernel, slots int) []rankedAlgo {
	var algos []cpuAlgo
	for _, kernel := range kernels {
		if kernel == KernelTiled {
			for _, shape := range tileShapes {
				algos = append(algos, cpuAlgo{kernel: KernelTiled, tileM: shape[0], tileN: shape[1], slots: slots})
			}
			continue
		}
		algos = append(algos, cpuAlgo{kernel: kernel, slots: slots})
	}

	ranked := make([]rankedAlgo, 0, len(algos))
	for _, a := range algos {
		cost, waves := a.estimate(p)
		ranked = append(ranked, rankedAlgo{algo: a, cost: cost, waves: waves, workspace: a.workspaceBytes(p)})
	}
	slices.SortStableFunc(ranked, func(x, y rankedAlgo) int {
		switch {
		case x.cost < y.cost:
			return -1
		case x.cost > y.cost:
			return 1
		case x.workspace != y.workspace:
			// Equal cost: prefer the smaller workspace.
			if x.workspace < y.workspace {
				return -1
			}
			return 1
		}
		return 0
	})
	return ranked
}
