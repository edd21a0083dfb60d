package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jordanhubbard/healloop/internal/api"
	"github.com/jordanhubbard/healloop/internal/containers"
	"github.com/jordanhubbard/healloop/internal/database"
	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/health"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/memory"
	"github.com/jordanhubbard/healloop/internal/messagebus"
	"github.com/jordanhubbard/healloop/internal/metrics"
	"github.com/jordanhubbard/healloop/internal/provider"
	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/internal/sandbox"
	"github.com/jordanhubbard/healloop/internal/synth"
	"github.com/jordanhubbard/healloop/internal/telemetry"
	"github.com/jordanhubbard/healloop/pkg/config"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg        *config.Config
	controller *healer.Controller
	memory     *memory.Manager
	fileStore  *memory.FileStore
	metrics    *metrics.Metrics
	checks     map[string]api.Check
	closers    []func() error
	logger     *slog.Logger
}

// newApp wires the controller. Optional backends (Redis, NATS, indexes,
// OTLP) that fail to connect are logged and skipped; the primary memory
// store failing is fatal.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: metrics.NewMetrics(),
		checks:  map[string]api.Check{},
		logger:  logging.New("main"),
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
	} else {
		a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	}

	mem, err := a.openMemory(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.memory = mem

	model, err := provider.New(cfg.Model)
	if err != nil {
		a.logger.Warn("language model unavailable, using template synthesis only", "provider", cfg.Model.Provider, "error", err)
		model = nil
	}

	runner := sandbox.NewRunner(
		containers.NewCLIRuntime(cfg.Sandbox.Runtime),
		health.NewChecker(cfg.Health.Retries, cfg.Health.Delay, cfg.Health.RequestTimeout),
		cfg.Sandbox,
	)
	runner.HealthTimeout = cfg.HealthBudget()
	runner.OnStep = func(step sandbox.Step, d time.Duration, ok bool) {
		a.metrics.ObserveStep(string(step), d, ok)
	}

	recorders := healer.Recorders{a.metrics}
	if instruments, err := telemetry.NewInstruments(nil); err != nil {
		a.logger.Warn("otel run metrics disabled", "error", err)
	} else {
		recorders = append(recorders, instruments)
	}

	a.controller = healer.New(cfg, healer.Deps{
		Synthesizer: synth.NewSynthesizer(model, cfg.Sandbox.ServicePort),
		Repairer:    synth.NewRepairer(model),
		Sandbox:     runner,
		Memory:      mem,
		Ports:       a.ports(ctx),
		Events:      a.publisher(),
		Metrics:     recorders,
		Reporter:    report.Writer{},
	})
	return a, nil
}

func (a *app) openMemory(ctx context.Context) (*memory.Manager, error) {
	cfg := a.cfg
	var primary memory.Store
	switch cfg.Memory.Backend {
	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.Memory.DSN)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks["postgres"] = db.Ping
		primary = db.RepairMemory()
	default:
		a.fileStore = memory.NewFileStore(cfg.Memory.Path)
		primary = a.fileStore
	}

	var index memory.Index
	switch cfg.Index.Backend {
	case "weaviate":
		w, err := memory.NewWeaviateIndex(cfg.Index.URL, cfg.Index.ClassName)
		if err != nil {
			a.logger.Warn("weaviate index disabled", "error", err)
		} else {
			index = w
		}
	case "badger":
		b, err := memory.OpenBadgerIndex(cfg.Index.Path)
		if err != nil {
			a.logger.Warn("badger index disabled", "error", err)
		} else {
			index = b
		}
	}

	m := memory.NewManager(primary, index, cfg.Memory.Limit, cfg.Memory.TailChars)
	a.closers = append(a.closers, m.Close)
	return m, nil
}

func (a *app) ports(ctx context.Context) containers.PortAllocator {
	random := &containers.RandomPorts{Min: a.cfg.Sandbox.PortRangeMin, Max: a.cfg.Sandbox.PortRangeMax}
	if a.cfg.Redis.URL == "" {
		return random
	}
	leaser, err := containers.NewRedisLeaser(ctx, a.cfg.Redis.URL, random, a.cfg.Redis.LeaseTTL)
	if err != nil {
		a.logger.Warn("redis port leases disabled", "error", err)
		return random
	}
	a.closers = append(a.closers, leaser.Close)
	return leaser
}

func (a *app) publisher() healer.Publisher {
	if a.cfg.NATS.URL == "" {
		return messagebus.Noop{}
	}
	p, err := messagebus.NewNatsPublisher(messagebus.Config{
		URL:           a.cfg.NATS.URL,
		SubjectPrefix: a.cfg.NATS.SubjectPrefix,
		Timeout:       a.cfg.NATS.Timeout,
	})
	if err != nil {
		a.logger.Warn("run events disabled", "error", err)
		return messagebus.Noop{}
	}
	a.closers = append(a.closers, p.Close)
	return p
}

// pushMetrics sends the registry to the Pushgateway when configured.
func (a *app) pushMetrics(ctx context.Context, instance string) {
	if a.cfg.Metrics.PushURL == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(pctx, a.cfg.Metrics.PushURL, a.cfg.Metrics.Job, instance); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown errors", "error", err)
		return err
	}
	return nil
}
