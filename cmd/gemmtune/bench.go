package main

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/fxnlabs/gemm-tuner/internal/gemm"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
	"github.com/fxnlabs/gemm-tuner/internal/metrics"
)

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Time every candidate for a shape",
		Flags: append(shapeFlags(),
			&cli.IntFlag{Name: "iterations", Value: 20, Usage: "Timed executions per candidate"},
			&cli.IntFlag{Name: "warmup", Value: 2, Usage: "Untimed executions per stream"},
			&cli.IntFlag{Name: "streams", Value: 2, Usage: "Concurrent streams"},
			&cli.BoolFlag{Name: "serve-metrics", Usage: "Serve /metrics on the configured listen address while running"},
			&cli.BoolFlag{Name: "no-progress", Usage: "Hide the progress bar"},
		),
		Action: func(c *cli.Context) error {
			cfg, log := appConfig(c), appLogger(c)
			shape, err := shapeFromFlags(c, cfg)
			if err != nil {
				return err
			}

			if c.Bool("serve-metrics") {
				srv, err := metrics.Serve(log, cfg.Metrics.ListenAddress)
				if err != nil {
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
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

				opts := gemm.BenchOptions{
					Iterations: c.Int("iterations"),
					Warmup:     c.Int("warmup"),
					Streams:    c.Int("streams"),
				}
				var bar *progressbar.ProgressBar
				if !c.Bool("no-progress") {
					bar = progressbar.NewOptions(opts.Iterations*len(candidates),
						progressbar.OptionSetDescription(shape.String()),
						progressbar.OptionSetWriter(c.App.ErrWriter),
						progressbar.OptionShowIts(),
						progressbar.OptionSetItsString("gemm"),
						progressbar.OptionSetTheme(progressbar.ThemeASCII),
					)
					opts.Progress = func() { _ = bar.Add(1) }
				}
				results, err := runner.Bench(c.Context, p, opts)
				if bar != nil {
					_ = bar.Finish()
					fmt.Fprintln(c.App.ErrWriter)
				}
				if err != nil {
					return err
				}

				w := c.App.Writer
				fmt.Fprintf(w, "%s, %d iterations on %d streams\n", p, opts.Iterations, opts.Streams)
				for i, res := range results {
					fmt.Fprintf(w, "%2d  %-50s  %10.2f GFLOPS  %s/iter\n",
						i+1, res.Candidate, res.GFLOPS, res.Elapsed/time.Duration(res.Iterations))
				}
				return nil
			})
		},
	}
}
