package gpu

import (
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

func BenchmarkCPUBackend_Kernels(b *testing.B) {
	backend := NewCPUBackend(zap.NewNop(), CPUOptions{})
	if err := backend.Initialize(); err != nil {
		b.Fatal(err)
	}
	defer backend.Cleanup()
	h := lt.New(backend)
	defer h.Close()

	// Use smaller sizes for CPU to keep benchmark reasonable
	sizes := []int{64, 128, 256}

	for _, size := range sizes {
		layout := lt.Layout{Rows: size, Cols: size, LD: size, DataType: lt.R32F}
		m := lt.MustMatrix(layout)
		p, err := lt.NewProblem(lt.NewMatMulDesc(lt.Compute32F, lt.R32F), m, m, m, m)
		if err != nil {
			b.Fatal(err)
		}
		candidates, err := h.Tune(p, math.MaxUint64, 16)
		if err != nil {
			b.Fatal(err)
		}

		host := make([]float32, size*size)
		for i := range host {
			host[i] = float32(i%100) / 100.0
		}

		for _, cand := range candidates {
			b.Run(fmt.Sprintf("size_%d/%s", size, cand), func(b *testing.B) {
				stream, err := backend.NewStream()
				if err != nil {
					b.Fatal(err)
				}
				defer stream.Destroy()
				in, err := Upload(backend, host, stream)
				if err != nil {
					b.Fatal(err)
				}
				defer in.Free()
				out, err := Alloc(backend, m.Bytes())
				if err != nil {
					b.Fatal(err)
				}
				defer out.Free()
				ws, err := Alloc(backend, cand.WorkspaceSize())
				if err != nil {
					b.Fatal(err)
				}
				defer ws.Free()
				args := lt.Args[float32]{A: in.Ptr(), B: in.Ptr(), D: out.Ptr(), Alpha: 1, Workspace: ws.Workspace()}

				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if err := lt.MatMul(h, p, cand, args, stream); err != nil {
						b.Fatal(err)
					}
				}
				if err := stream.Synchronize(); err != nil {
					b.Fatal(err)
				}

				// Report metrics
				gflops := p.Flops() * float64(b.N) / b.Elapsed().Seconds() / 1e9
				b.ReportMetric(gflops, "GFLOPS")
				b.ReportMetric(float64(cand.WorkspaceSize())/(1<<20), "MB-workspace")
			})
		}
	}
}
