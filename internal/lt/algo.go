package lt

import (
	"fmt"
	"strings"
)

// AlgoWords is the size of an algorithm blob, matching cublasLtMatmulAlgo_t.
const AlgoWords = 8

// Algo is an opaque algorithm configuration produced by a Driver.
type Algo struct {
	data [AlgoWords]uint64
}

// NewAlgo wraps a driver-specific configuration blob.
func NewAlgo(data [AlgoWords]uint64) Algo { return Algo{data: data} }

// Data returns the raw blob for the driver that produced it.
func (a Algo) Data() [AlgoWords]uint64 { return a.data }

// String prints the blob in hex without trailing zero words.
func (a Algo) String() string {
	n := len(a.data)
	for n > 1 && a.data[n-1] == 0 {
		n--
	}
	words := make([]string, n)
	for i, w := range a.data[:n] {
		words[i] = fmt.Sprintf("%x", w)
	}
	return strings.Join(words, ".")
}

// Candidate is a tuned algorithm bound to the problem it was tuned for.
type Candidate struct {
	algo          Algo
	workspaceSize uint64
	waves         float32
	fingerprint   uint64
	bound         bool
}

func (c Candidate) Algo() Algo { return c.algo }

// WorkspaceSize is the scratch memory, in bytes, the algorithm requires.
func (c Candidate) WorkspaceSize() uint64 { return c.workspaceSize }

// Waves is the library's estimated waves count, 0 when not reported.
func (c Candidate) Waves() float32 { return c.waves }

// Fingerprint is the fingerprint of the problem the candidate was tuned for.
func (c Candidate) Fingerprint() uint64 { return c.fingerprint }

// For reports whether the candidate may execute p.
func (c Candidate) For(p *Problem) bool {
	return c.bound && p != nil && c.fingerprint == p.Fingerprint()
}

func (c Candidate) String() string {
	return fmt.Sprintf("algo(%s) workspace=%d waves=%.2f", c.algo, c.workspaceSize, c.waves)
}
