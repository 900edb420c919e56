package main

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/common-nighthawk/go-figure"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/fxnlabs/gemm-tuner/internal/gemm"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the selected compute backend",
		Action: func(c *cli.Context) error {
			return withRunner(c, func(_ *gemm.Runner, manager *gpu.Manager) error {
				w := c.App.Writer
				fmt.Fprintln(w, figure.NewFigure("gemmtune", "", true).String())
				info := manager.GetDeviceInfo()
				fmt.Fprintf(w, "Backend:            %s\n", manager.GetBackendType())
				fmt.Fprintf(w, "Device:             %s\n", info.Name)
				fmt.Fprintf(w, "Compute capability: %s\n", info.ComputeCapability)
				fmt.Fprintf(w, "Memory:             %s total, %s available\n",
					humanize.IBytes(uint64(info.TotalMemory)), humanize.IBytes(uint64(info.AvailableMemory)))
				fmt.Fprintf(w, "Driver:             %s\n", info.DriverVersion)
				if manager.IsGPUAvailable() {
					fmt.Fprintf(w, "CUDA runtime:       %s\n", info.CUDAVersion)
					fmt.Fprintf(w, "cuBLASLt:           %s\n", info.LtVersion)
				}
				return nil
			})
		},
	}
}

func tuneCommand() *cli.Command {
	return &cli.Command{
		Name:  "tune",
		Usage: "List the ranked candidate algorithms for a shape",
		Flags: shapeFlags(),
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			shape, err := shapeFromFlags(c, cfg)
			if err != nil {
				return err
			}
			return withRunner(c, func(runner *gemm.Runner, _ *gpu.Manager) error {
				p, err := gemm.Plan(shape)
				if err != nil {
					return err
				}
				candidates, err := runner.Tune(c.Context, p)
				if err != nil {
					return err
				}
				w := c.App.Writer
				fmt.Fprintf(w, "%s %s, workspace limit %s\n", shape, p, cfg.Tuner.WorkspaceLimit)
				for i, cand := range candidates {
					fmt.Fprintf(w, "%2d  %-40s  %10s  %8.2f waves\n",
						i+1, cand.Algo(), humanize.IBytes(cand.WorkspaceSize()), cand.Waves())
				}
				return nil
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Multiply random matrices with the best candidate",
		Flags: append(shapeFlags(),
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Seed for the random operands"},
		),
		Action: func(c *cli.Context) error {
			shape, err := shapeFromFlags(c, appConfig(c))
			if err != nil {
				return err
			}
			batch := max(shape.Batch, 1)
			seed := c.Uint64("seed")
			return withRunner(c, func(runner *gemm.Runner, _ *gpu.Manager) error {
				p, err := gemm.Plan(shape)
				if err != nil {
					return err
				}
				ops := gemm.Operands[float32]{
					A:     gemm.RandomMatrix(batch*shape.M*shape.K, seed),
					B:     gemm.RandomMatrix(batch*shape.K*shape.N, seed+1),
					Alpha: 1,
				}
				d, report, err := gemm.Execute(c.Context, runner, p, ops)
				if err != nil {
					return err
				}
				appLogger(c).Info("Multiplication completed",
					zap.Stringer("shape", shape),
					zap.Stringer("candidate", report.Candidate),
					zap.Duration("duration", report.Duration),
					zap.Float64("gflops", report.GFLOPS))

				w := c.App.Writer
				fmt.Fprintf(w, "%s %s with %s\n", shape, p, report.Candidate)
				fmt.Fprintf(w, "  duration  %s (%.2f GFLOPS)\n", report.Duration, report.GFLOPS)
				fmt.Fprintf(w, "  sum(D)    %.6g\n", floats.Sum(gpu.Float32ToFloat64(d)))
				fmt.Fprintf(w, "  digest    %016x\n", xxhash.Sum64(gpu.AsBytes(d)))
				return nil
			})
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Compare every candidate with the reference GEMM",
		Flags: append(shapeFlags(),
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Seed for the random operands"},
		),
		Action: func(c *cli.Context) error {
			shape, err := shapeFromFlags(c, appConfig(c))
			if err != nil {
				return err
			}
			return withRunner(c, func(runner *gemm.Runner, _ *gpu.Manager) error {
				v, err := runner.Verify(c.Context, shape, c.Uint64("seed"))
				if err != nil {
					return err
				}
				w := c.App.Writer
				fmt.Fprintf(w, "%s, seed %d, reference digest %016x\n", v.Shape, v.Seed, v.ReferenceDigest)
				for _, check := range v.Checks {
					status := "exact"
					if !check.Exact() {
						status = "MISMATCH"
					}
					fmt.Fprintf(w, "  %-8s  %-50s  mismatches=%d max|diff|=%.3g rel=%.3g\n",
						status, check.Candidate, check.Mismatches, check.MaxAbsDiff, check.RelError)
				}
				fmt.Fprintf(w, "Freivalds check: %t\n", v.Freivalds)
				if !v.Exact() {
					worst := 0.0
					for _, check := range v.Checks {
						worst = math.Max(worst, check.MaxAbsDiff)
					}
					return fmt.Errorf("tuned results differ from the reference (max |diff| %.3g)", worst)
				}
				return nil
			})
		},
	}
}
