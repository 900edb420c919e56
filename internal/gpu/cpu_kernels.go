package gpu

import (
	"golang.org/x/sync/errgroup"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// Every host kernel accumulates each output element over k in ascending
// order, rounding each product and each partial sum to T. Kernels only differ
// in traversal and packing, so all of them agree bit for bit with
// referenceGemm.

// operand gives element strides of one matrix.
type operand struct {
	rows, cols int64 // element stride between rows / between columns
	batch      int64
}

func operandOf(m *lt.Matrix) operand {
	op := operand{batch: m.BatchStride()}
	if m.Order() == lt.RowMajor {
		op.rows, op.cols = int64(m.LD()), 1
	} else {
		op.rows, op.cols = 1, int64(m.LD())
	}
	return op
}

func (o operand) at(b, i, j int) int64 {
	return int64(b)*o.batch + int64(i)*o.rows + int64(j)*o.cols
}

// gemm is one resolved multiplication on host-visible memory.
type gemm[T lt.Scalar] struct {
	m, n, k, batch int
	a, b, c, d     []T
	oa, ob, oc, od operand
	alpha, beta    T
	betaZero       bool
}

func epilogue[T lt.Scalar](alpha, acc, beta, c T, betaZero bool) T {
	r := T(alpha * acc)
	if betaZero {
		return r
	}
	return T(r + T(beta*c))
}

func (g *gemm[T]) store(b, i, j int, acc T) {
	var c T
	if !g.betaZero {
		c = g.c[g.oc.at(b, i, j)]
	}
	g.d[g.od.at(b, i, j)] = epilogue(g.alpha, acc, g.beta, c, g.betaZero)
}

// rowChunks splits [0, rows) into roughly 4 chunks per worker.
func rowChunks(rows, workers int) int {
	chunk := rows / (4 * max(workers, 1))
	return max(chunk, 1)
}

// runDirect reads operands in place through their strides. No workspace.
func runDirect[T lt.Scalar](g *gemm[T], workers int) {
	var eg errgroup.Group
	eg.SetLimit(max(workers, 1))
	chunk := rowChunks(g.m, workers)
	for b := 0; b < g.batch; b++ {
		for start := 0; start < g.m; start += chunk {
			end := min(start+chunk, g.m)
			eg.Go(func() error {
				for i := start; i < end; i++ {
					for j := 0; j < g.n; j++ {
						var acc T
						for l := 0; l < g.k; l++ {
							acc += T(g.a[g.oa.at(b, i, l)] * g.b[g.ob.at(b, l, j)])
						}
						g.store(b, i, j, acc)
					}
				}
				return nil
			})
		}
	}
	_ = eg.Wait()
}

// packedWorkspace is the element count runPacked needs: B transposed.
func packedWorkspace(k, n int) int64 {
	return int64(k) * int64(n)
}

// runPacked packs B column by column into ws, then streams rows of A
// against the packed columns.
func runPacked[T lt.Scalar](g *gemm[T], ws []T, workers int) {
	bt := ws[:packedWorkspace(g.k, g.n)]
	chunk := rowChunks(g.m, workers)
	for b := 0; b < g.batch; b++ {
		for j := 0; j < g.n; j++ {
			col := bt[j*g.k : (j+1)*g.k]
			for l := range col {
				col[l] = g.b[g.ob.at(b, l, j)]
			}
		}

		var eg errgroup.Group
		eg.SetLimit(max(workers, 1))
		for start := 0; start < g.m; start += chunk {
			end := min(start+chunk, g.m)
			eg.Go(func() error {
				row := make([]T, g.k)
				for i := start; i < end; i++ {
					for l := range row {
						row[l] = g.a[g.oa.at(b, i, l)]
					}
					dotPanel(row, bt, 1, g.n, g.k, func(_, j int, acc T) {
						g.store(b, i, j, acc)
					})
				}
				return nil
			})
		}
		_ = eg.Wait()
	}
}

// tiledWorkspace is the element count runTiled needs: one packed A and B
// panel per worker slot.
func tiledWorkspace(k, tileM, tileN, slots int) int64 {
	return int64(slots) * int64(tileM+tileN) * int64(k)
}

// runTiled splits D into tileM×tileN tiles. Each slot packs the A rows and
// B columns of its tile into its own part of ws.
func runTiled[T lt.Scalar](g *gemm[T], ws []T, tileM, tileN, slots int) {
	slotSize := int64(tileM+tileN) * int64(g.k)
	free := make(chan int, slots)
	for s := 0; s < slots; s++ {
		free <- s
	}

	var eg errgroup.Group
	for b := 0; b < g.batch; b++ {
		for i0 := 0; i0 < g.m; i0 += tileM {
			for j0 := 0; j0 < g.n; j0 += tileN {
				slot := <-free
				eg.Go(func() error {
					defer func() { free <- slot }()
					mem := ws[int64(slot)*slotSize : int64(slot+1)*slotSize]
					rows, cols := min(tileM, g.m-i0), min(tileN, g.n-j0)
					ap := mem[:rows*g.k]
					bp := mem[tileM*g.k : tileM*g.k+cols*g.k]
					for i := 0; i < rows; i++ {
						dst := ap[i*g.k : (i+1)*g.k]
						for l := range dst {
							dst[l] = g.a[g.oa.at(b, i0+i, l)]
						}
					}
					for j := 0; j < cols; j++ {
						dst := bp[j*g.k : (j+1)*g.k]
						for l := range dst {
							dst[l] = g.b[g.ob.at(b, l, j0+j)]
						}
					}
					dotPanel(ap, bp, rows, cols, g.k, func(i, j int, acc T) {
						g.store(b, i0+i, j0+j, acc)
					})
					return nil
				})
			}
		}
	}
	_ = eg.Wait()
}

// dotPanel computes every dot product between the rows of ap (rows×k) and
// the rows of bp (cols×k), four columns at a time.
func dotPanel[T lt.Scalar](ap, bp []T, rows, cols, k int, emit func(i, j int, acc T)) {
	for i := 0; i < rows; i++ {
		ar := ap[i*k : (i+1)*k]
		j := 0
		for ; j+4 <= cols; j += 4 {
			b0 := bp[j*k : (j+1)*k][:len(ar)]
			b1 := bp[(j+1)*k : (j+2)*k][:len(ar)]
			b2 := bp[(j+2)*k : (j+3)*k][:len(ar)]
			b3 := bp[(j+3)*k : (j+4)*k][:len(ar)]
			var s0, s1, s2, s3 T
			for l, av := range ar {
				s0 += T(av * b0[l])
				s1 += T(av * b1[l])
				s2 += T(av * b2[l])
				s3 += T(av * b3[l])
			}
			emit(i, j, s0)
			emit(i, j+1, s1)
			emit(i, j+2, s2)
			emit(i, j+3, s3)
		}
		for ; j < cols; j++ {
			br := bp[j*k : (j+1)*k][:len(ar)]
			var s T
			for l, av := range ar {
				s += T(av * br[l])
			}
			emit(i, j, s)
		}
	}
}

// referenceGemm is the plain row-major C = alpha*A*B + beta*C.
func referenceGemm(a, b, c []float32, m, k, n int, alpha, beta float32, workers int) {
	var eg errgroup.Group
	eg.SetLimit(max(workers, 1))
	chunk := rowChunks(m, workers)
	for start := 0; start < m; start += chunk {
		end := min(start+chunk, m)
		eg.Go(func() error {
			row := make([]float32, n)
			for i := start; i < end; i++ {
				clear(row)
				for l := 0; l < k; l++ {
					x := a[i*k+l]
					for j, y := range b[l*n : (l+1)*n] {
						row[j] += float32(x * y)
					}
				}
				for j, acc := range row {
					c[i*n+j] = epilogue(alpha, acc, beta, c[i*n+j], beta == 0)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
}
