package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/fxnlabs/gemm-tuner/internal/config"
	"github.com/fxnlabs/gemm-tuner/internal/gemm"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

// withRunner starts the gemm module for the duration of fn.
func withRunner(c *cli.Context, fn func(runner *gemm.Runner, manager *gpu.Manager) error) (err error) {
	cfg, log := appConfig(c), appLogger(c)

	var runner *gemm.Runner
	var manager *gpu.Manager
	app := fx.New(
		fx.Supply(cfg, log),
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		gemm.Module,
		fx.Populate(&runner, &manager),
	)
	if err := app.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		err = multierr.Append(err, app.Stop(ctx))
	}()
	return fn(runner, manager)
}

func shapeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "preset",
			Value: "scenario",
			Usage: "Use the shape named `NAME` in the presets section",
		},
		&cli.IntFlag{Name: "m", Usage: "Rows of A and D"},
		&cli.IntFlag{Name: "k", Usage: "Columns of A, rows of B"},
		&cli.IntFlag{Name: "n", Usage: "Columns of B and D"},
		&cli.IntFlag{Name: "batch", Usage: "Number of matrices per operand"},
	}
}

// shapeFromFlags starts from the preset and applies any explicit dimension.
func shapeFromFlags(c *cli.Context, cfg *config.Config) (config.Shape, error) {
	shape, ok := cfg.Presets[c.String("preset")]
	if !ok {
		if !c.IsSet("m") || !c.IsSet("k") || !c.IsSet("n") {
			return shape, fmt.Errorf("unknown preset %q", c.String("preset"))
		}
	}
	for name, dim := range map[string]*int{"m": &shape.M, "k": &shape.K, "n": &shape.N, "batch": &shape.Batch} {
		if c.IsSet(name) {
			*dim = c.Int(name)
		}
	}
	return shape, nil
}
