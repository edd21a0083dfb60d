// Package healer runs the bounded synthesize, sandbox, classify and repair
// loop for one goal.
package healer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jordanhubbard/healloop/internal/classifier"
	"github.com/jordanhubbard/healloop/internal/containers"
	"github.com/jordanhubbard/healloop/internal/health"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/sandbox"
	"github.com/jordanhubbard/healloop/internal/synth"
	"github.com/jordanhubbard/healloop/pkg/config"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// Event names published during a run.
const (
	EventRunStarted     = "run.started"
	EventRoundCompleted = "round.completed"
	EventRunFinished    = "run.finished"
)

const flushTimeout = 30 * time.Second

// ErrDeadline is recorded when the run's wall-clock cap expires.
var ErrDeadline = errors.New("run deadline exceeded")

// Deps are the controller's collaborators. Events, Metrics and Reporter are
// optional.
type Deps struct {
	Synthesizer Synthesizer
	Repairer    Repairer
	Sandbox     Sandbox
	Memory      Memory
	Ports       containers.PortAllocator
	Events      Publisher
	Metrics     Recorder
	Reporter    Reporter
}

// Options control a single run.
type Options struct {
	MaxRounds int
	DryRun    bool
	// RunID overrides the generated id.
	RunID string
}

// Controller owns the lifecycle of runs and their rounds.
type Controller struct {
	cfg    *config.Config
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg *config.Config, deps Deps) *Controller {
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	return &Controller{cfg: cfg, deps: deps, now: time.Now, logger: logging.New("healer")}
}

// NewRunID returns a sortable, timestamp-derived id with a random suffix so
// runs started in the same second never share a directory.
func NewRunID(t time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return t.UTC().Format("20060102T150405") + "-" + hex.EncodeToString(b[:])
}

// Run drives goal to HEALTHY or EXHAUSTED. Failures of the generated
// service are recorded in the returned Run, never returned as errors. The
// returned error is non-nil only for invalid input.
func (c *Controller) Run(ctx context.Context, goal string, opts Options) (*models.Run, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal is required")
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = c.cfg.MaxRounds
	}

	run := &models.Run{
		ID:             opts.RunID,
		Goal:           goal,
		RequiredRoutes: health.RequiredRoutes(goal, c.cfg.Health.LivenessRoute),
		MaxRounds:      maxRounds,
		DryRun:         opts.DryRun,
		StartedAt:      c.now().UTC(),
	}
	if run.ID == "" {
		run.ID = NewRunID(run.StartedAt)
	}
	run.Dir = filepath.Join(c.cfg.RunsDir, run.ID)
	logger := c.logger.With("run_id", run.ID)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunDeadline(maxRounds))
	defer cancel()
	ctx, span := otel.Tracer("healloop/healer").Start(ctx, "healer.run")
	span.SetAttributes(attribute.String("run_id", run.ID), attribute.Int("max_rounds", maxRounds))
	defer span.End()

	logger.Info("run started", "goal", goal, "routes", run.RequiredRoutes, "max_rounds", maxRounds, "dry_run", opts.DryRun)
	c.publish(ctx, EventRunStarted, run.ID, map[string]any{
		"goal": goal, "required_routes": run.RequiredRoutes, "max_rounds": maxRounds, "dry_run": opts.DryRun,
	})

	c.transition(run, models.StateSynthesize)
	files, source := c.deps.Synthesizer.Synthesize(ctx, goal, run.RequiredRoutes)
	logger.Info("file set synthesized", "source", source, "hash", files.Hash())

	if opts.DryRun {
		c.dryRun(run, files)
	} else {
		c.loop(ctx, run, files, logger)
	}

	c.finish(ctx, run, logger)
	if !run.OK {
		span.SetStatus(codes.Error, string(run.State))
	}
	span.SetAttributes(attribute.Bool("ok", run.OK), attribute.Int("rounds", len(run.Rounds)))
	return run, nil
}

// dryRun writes the synthesized files and checks route coverage only.
func (c *Controller) dryRun(run *models.Run, files models.FileSet) {
	round := models.Round{
		Number:      1,
		FileSetHash: files.Hash(),
		Dir:         filepath.Join(run.Dir, "round_1"),
	}
	if err := files.Materialize(round.Dir); err != nil {
		round.RuntimeTail = err.Error()
		run.Error = err.Error()
	} else if missing := synth.MissingRoutes(files, run.RequiredRoutes); len(missing) > 0 {
		round.RuntimeTail = "routes not served or tested: " + strings.Join(missing, " ")
	} else if !files.Complete() {
		round.RuntimeTail = "file set incomplete"
	} else {
		round.OK = true
		round.RuntimeTail = "dry run: sandbox skipped"
	}
	run.Rounds = append(run.Rounds, round)
	if round.OK {
		c.transition(run, models.StateHealthy)
	} else {
		c.transition(run, models.StateExhausted)
	}
}

func (c *Controller) loop(ctx context.Context, run *models.Run, files models.FileSet, logger *slog.Logger) {
	for n := 1; n <= run.MaxRounds; n++ {
		c.transition(run, models.StateSandbox)
		round, res := c.round(ctx, run, n, files)
		logger.Info("round finished", "round", n, "ok", res.OK, "failed_step", res.FailedStep, "duration", round.Duration)

		if res.OK {
			run.Rounds = append(run.Rounds, round)
			c.deps.Metrics.ObserveRound("", true, round.Duration)
			c.publishRound(ctx, run, &round)
			c.transition(run, models.StateHealthy)
			return
		}

		c.transition(run, models.StateFailed)
		entry := &models.MemoryEntry{
			Timestamp:    c.now().UTC(),
			RunID:        run.ID,
			Goal:         run.Goal,
			Round:        n,
			ChangedFiles: []string{},
			BuildTail:    round.BuildTail,
			TestTail:     round.TestTail,
			RuntimeTail:  round.RuntimeTail,
		}
		run.Memory = append(run.Memory, entry)

		c.transition(run, models.StateClassify)
		round.Signature = classifier.Classify(round.BuildTail, round.TestTail, round.RuntimeTail)
		entry.Signature = round.Signature
		c.deps.Metrics.ObserveRound(round.Signature, false, round.Duration)
		logger.Info("round classified", "round", n, "signature", round.Signature)

		if n == run.MaxRounds {
			run.Rounds = append(run.Rounds, round)
			c.publishRound(ctx, run, &round)
			break
		}
		if ctx.Err() != nil {
			run.Error = ErrDeadline.Error()
			run.Rounds = append(run.Rounds, round)
			c.publishRound(ctx, run, &round)
			break
		}

		c.transition(run, models.StateRepair)
		patched, err := c.deps.Repairer.Repair(ctx, synth.RepairRequest{
			Goal:          run.Goal,
			Files:         files,
			Routes:        run.RequiredRoutes,
			Signature:     round.Signature,
			BuildTail:     round.BuildTail,
			TestTail:      round.TestTail,
			RuntimeTail:   round.RuntimeTail,
			MemoryContext: c.deps.Memory.Context(ctx, run.Goal, round.Signature),
		})
		if err != nil {
			logger.Error("repair synthesis failed, ending run", "round", n, "error", err)
			run.Error = err.Error()
			round.RuntimeTail = "repair synthesis failed: " + err.Error()
			entry.RuntimeTail = round.RuntimeTail
			run.Rounds = append(run.Rounds, round)
			c.publishRound(ctx, run, &round)
			break
		}

		changed := models.SlotNames(files.Changed(patched))
		round.ChangedSlots = changed
		entry.ChangedFiles = changed
		files = patched
		run.Rounds = append(run.Rounds, round)
		c.publishRound(ctx, run, &round)
		logger.Info("repair applied", "round", n, "changed", changed)
	}
	c.transition(run, models.StateExhausted)
}

// round allocates a port and names, then runs the sandbox. Allocation
// failures are reported as a failed round.
func (c *Controller) round(ctx context.Context, run *models.Run, n int, files models.FileSet) (models.Round, sandbox.Result) {
	ctx, span := otel.Tracer("healloop/healer").Start(ctx, "healer.round")
	span.SetAttributes(attribute.Int("round", n))
	defer span.End()

	start := time.Now()
	round := models.Round{
		Number:      n,
		FileSetHash: files.Hash(),
		Dir:         filepath.Join(run.Dir, fmt.Sprintf("round_%d", n)),
	}
	fail := func(msg string) (models.Round, sandbox.Result) {
		round.RuntimeTail = msg
		round.Duration = time.Since(start)
		span.SetStatus(codes.Error, msg)
		return round, sandbox.Result{RuntimeTail: msg}
	}

	tag, err := containers.ImageTag(c.cfg.Sandbox.ImagePrefix, run.ID, n)
	if err != nil {
		return fail(err.Error())
	}
	port, err := c.deps.Ports.Acquire(ctx)
	if err != nil {
		return fail("port allocation failed: " + err.Error())
	}
	defer c.deps.Ports.Release(context.WithoutCancel(ctx), port)

	round.Port = port
	round.ImageTag = tag
	round.ContainerName = containers.ContainerName(c.cfg.Sandbox.ImagePrefix, run.ID, n)

	res := c.deps.Sandbox.Run(ctx, sandbox.Request{
		Files:         files,
		Dir:           round.Dir,
		ImageTag:      round.ImageTag,
		ContainerName: round.ContainerName,
		Port:          port,
		Routes:        run.RequiredRoutes,
	})
	round.OK = res.OK
	round.BuildTail = res.BuildTail
	round.TestTail = res.TestTail
	round.RuntimeTail = res.RuntimeTail
	round.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("ok", res.OK))
	return round, res
}

// finish backfills every entry with the outcome, flushes them once and
// writes the report.
func (c *Controller) finish(ctx context.Context, run *models.Run, logger *slog.Logger) {
	run.OK = run.State == models.StateHealthy
	run.FinishedAt = c.now().UTC()
	for _, e := range run.Memory {
		e.Backfill(run.OK)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if len(run.Memory) > 0 {
		if err := c.deps.Memory.Flush(fctx, run.Memory); err != nil {
			logger.Error("memory flush failed", "entries", len(run.Memory), "error", err)
			c.deps.Metrics.MemoryFlushFailed()
		}
	}
	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.Write(run); err != nil {
			logger.Error("report write failed", "error", err)
		}
	}

	duration := run.FinishedAt.Sub(run.StartedAt)
	c.deps.Metrics.ObserveRun(run.State, len(run.Rounds), duration)
	c.publish(fctx, EventRunFinished, run.ID, map[string]any{
		"ok": run.OK, "state": run.State, "rounds": len(run.Rounds), "error": run.Error, "run_dir": run.Dir,
	})
	logger.Info("run finished", "ok", run.OK, "state", run.State, "rounds", len(run.Rounds), "duration", duration)
}

func (c *Controller) transition(run *models.Run, to models.RunState) {
	c.logger.Debug("state transition", "run_id", run.ID, "from", run.State, "to", to)
	run.State = to
}

func (c *Controller) publishRound(ctx context.Context, run *models.Run, r *models.Round) {
	c.publish(ctx, EventRoundCompleted, run.ID, map[string]any{
		"round": r.Number, "ok": r.OK, "signature": r.Signature, "changed_slots": r.ChangedSlots, "fileset_hash": r.FileSetHash,
	})
}

func (c *Controller) publish(ctx context.Context, event, runID string, payload any) {
	if err := c.deps.Events.Publish(ctx, event, runID, payload); err != nil {
		c.logger.Warn("event publish failed", "event", event, "run_id", runID, "error", err)
	}
}
