package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/healloop/internal/api"
	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/temporal"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// pushingRunner pushes metrics after every run the worker executes.
type pushingRunner struct {
	a *app
}

func (p pushingRunner) Run(ctx context.Context, goal string, opts healer.Options) (*models.Run, error) {
	run, err := p.a.controller.Run(ctx, goal, opts)
	if err == nil {
		p.a.pushMetrics(ctx, run.ID)
	}
	return run, err
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Host heal runs as Temporal workflows and serve /healthz, /metrics, /logs and /runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logs := logging.NewBuffer(logging.DefaultBufferSize)
			logging.Capture(logs)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr, err := temporal.NewManager(ctx, &cfg.Temporal, pushingRunner{a: a})
			if err != nil {
				return err
			}
			defer mgr.Stop()

			srv := api.NewServer(cfg.RunsDir, a.metrics.Handler(), a.checks)
			srv.ServeLogs(logs)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return mgr.Run(gctx) })
			g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Addr) })
			return g.Wait()
		},
	}
}
