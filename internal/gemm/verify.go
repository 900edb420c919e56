package gemm

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fxnlabs/gemm-tuner/internal/config"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
	"github.com/fxnlabs/gemm-tuner/internal/lt"
	"github.com/fxnlabs/gemm-tuner/internal/metrics"
)

// RandomMatrix returns n values drawn uniformly from [-1, 1) by a PCG source
// seeded with seed.
func RandomMatrix(n int, seed uint64) []float32 {
	dist := distuv.Uniform{Min: -1, Max: 1, Src: rand.NewPCG(seed, seed^0x5851f42d4c957f2d)}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}

// CandidateCheck compares one tuned candidate with the reference GEMM.
type CandidateCheck struct {
	Candidate lt.Candidate
	// Mismatches counts elements that differ from the reference bit for bit.
	Mismatches int
	// MaxAbsDiff is the largest element-wise absolute difference.
	MaxAbsDiff float64
	// RelError is ||D - R||_F / ||R||_F.
	RelError float64
	// Digest is an xxhash of the raw output.
	Digest uint64
	Report Report
}

// Exact reports whether the candidate reproduced the reference exactly.
func (c CandidateCheck) Exact() bool { return c.Mismatches == 0 }

// Verification is the outcome of Verify.
type Verification struct {
	Shape           config.Shape
	Seed            uint64
	ReferenceDigest uint64
	Checks          []CandidateCheck
	// Freivalds is the probabilistic check of A@B against the reference
	// result in float64 arithmetic.
	Freivalds bool
}

// Exact reports whether every candidate matched the reference exactly.
func (v *Verification) Exact() bool {
	for _, c := range v.Checks {
		if !c.Exact() {
			return false
		}
	}
	return len(v.Checks) > 0
}

// Verify multiplies random operands of the given shape with every tuned
// candidate (alpha 1, beta 0) and compares each result with the backend's
// non-tuned reference GEMM.
func (r *Runner) Verify(ctx context.Context, shape config.Shape, seed uint64) (*Verification, error) {
	if shape.Batch > 1 {
		return nil, pkgerrors.Errorf("verify: batched shape %s is not supported by the reference path", shape)
	}
	p, err := Plan(shape)
	if err != nil {
		return nil, err
	}
	candidates, err := r.Tune(ctx, p)
	if err != nil {
		return nil, err
	}

	a := RandomMatrix(shape.M*shape.K, seed)
	b := RandomMatrix(shape.K*shape.N, seed+1)
	ref, err := r.reference(shape, a, b)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "reference GEMM")
	}

	v := &Verification{
		Shape:           shape,
		Seed:            seed,
		ReferenceDigest: xxhash.Sum64(gpu.AsBytes(ref)),
		Freivalds:       freivalds(shape, a, b, ref, 8, seed),
	}
	refDense := mat.NewDense(shape.M, shape.N, gpu.Float32ToFloat64(ref))
	refNorm := mat.Norm(refDense, 2)

	for _, cand := range candidates {
		d, report, err := ExecuteWith(ctx, r, p, cand, Operands[float32]{A: a, B: b, Alpha: 1})
		if err != nil {
			return nil, pkgerrors.WithMessagef(err, "candidate %s", cand)
		}
		check := CandidateCheck{Candidate: cand, Report: report, Digest: xxhash.Sum64(gpu.AsBytes(d))}
		for i := range d {
			if d[i] != ref[i] {
				check.Mismatches++
			}
		}
		d64 := gpu.Float32ToFloat64(d)
		check.MaxAbsDiff = floats.Distance(d64, refDense.RawMatrix().Data, math.Inf(1))
		var diff mat.Dense
		diff.Sub(mat.NewDense(shape.M, shape.N, d64), refDense)
		if refNorm > 0 {
			check.RelError = mat.Norm(&diff, 2) / refNorm
		}
		metrics.VerifyMismatches.Add(float64(check.Mismatches))

		log := r.logger.Info
		if !check.Exact() {
			log = r.logger.Warn
		}
		log("Verified candidate",
			zap.Stringer("shape", shape),
			zap.Stringer("candidate", cand),
			zap.Int("mismatches", check.Mismatches),
			zap.Float64("max_abs_diff", check.MaxAbsDiff),
			zap.Float64("gflops", report.GFLOPS))
		v.Checks = append(v.Checks, check)
	}
	return v, nil
}

// reference runs the backend's reference GEMM on its own stream.
func (r *Runner) reference(shape config.Shape, a, b []float32) (out []float32, err error) {
	var buffers []*gpu.Buffer
	defer func() {
		for _, buf := range buffers {
			err = multierr.Append(err, buf.Free())
		}
	}()
	stream, err := r.backend.NewStream()
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, stream.Destroy()) }()

	aBuf, err := gpu.Upload(r.backend, a, stream)
	if err != nil {
		return nil, err
	}
	buffers = append(buffers, aBuf)
	bBuf, err := gpu.Upload(r.backend, b, stream)
	if err != nil {
		return nil, err
	}
	buffers = append(buffers, bBuf)
	cBuf, err := gpu.Alloc(r.backend, uint64(shape.M*shape.N*4))
	if err != nil {
		return nil, err
	}
	buffers = append(buffers, cBuf)

	if err := r.backend.ReferenceGemm(shape.M, shape.K, shape.N, 1, aBuf.Ptr(), bBuf.Ptr(), 0, cBuf.Ptr(), stream); err != nil {
		return nil, err
	}
	return gpu.Download[float32](r.backend, cBuf.Ptr(), shape.M*shape.N, stream)
}

// freivalds checks A@B == C with Freivalds' algorithm: for random 0/1
// vectors x, A(Bx) must equal Cx. The tolerance scales with k since C was
// accumulated in float32.
func freivalds(shape config.Shape, a, b, c []float32, iterations int, seed uint64) bool {
	am := mat.NewDense(shape.M, shape.K, gpu.Float32ToFloat64(a))
	bm := mat.NewDense(shape.K, shape.N, gpu.Float32ToFloat64(b))
	cm := mat.NewDense(shape.M, shape.N, gpu.Float32ToFloat64(c))
	tol := float64(shape.K) * 1e-5

	rng := rand.New(rand.NewPCG(seed, 0))
	x := mat.NewVecDense(shape.N, nil)
	bx := mat.NewVecDense(shape.K, nil)
	abx := mat.NewVecDense(shape.M, nil)
	cx := mat.NewVecDense(shape.M, nil)
	for range iterations {
		for j := 0; j < shape.N; j++ {
			x.SetVec(j, float64(rng.IntN(2)))
		}
		bx.MulVec(bm, x)
		abx.MulVec(am, bx)
		cx.MulVec(cm, x)
		if !floats.EqualApprox(abx.RawVector().Data, cx.RawVector().Data, tol) {
			return false
		}
	}
	return true
}
