// Package sandbox runs one round's FileSet through build, test, start and
// health check, and always removes what it started.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jordanhubbard/healloop/internal/containers"
	"github.com/jordanhubbard/healloop/internal/health"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/pkg/config"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// Step names a sandbox stage.
type Step string

const (
	StepMaterialize Step = "materialize"
	StepBuild       Step = "build"
	StepTest        Step = "test"
	StepStart       Step = "start"
	StepHealth      Step = "health"
)

const cleanupTimeout = 30 * time.Second

// HealthChecker is satisfied by *health.Checker.
type HealthChecker interface {
	Check(ctx context.Context, port int, routes []string) health.Result
}

// Request describes one round to execute.
type Request struct {
	Files         models.FileSet
	Dir           string
	ImageTag      string
	ContainerName string
	Port          int
	Routes        []string
}

// Result is the outcome of a round. A failure is a value, not an error.
type Result struct {
	OK          bool
	FailedStep  Step
	BuildTail   string
	TestTail    string
	RuntimeTail string
	Health      health.Result
}

// Runner executes rounds against a container runtime.
type Runner struct {
	runtime containers.Runtime
	health  HealthChecker
	cfg     config.SandboxConfig
	logger  *slog.Logger

	// HealthTimeout bounds the whole health check when positive.
	HealthTimeout time.Duration
	// OnStep, when set, is called after every step with its duration.
	OnStep func(step Step, d time.Duration, ok bool)
}

func NewRunner(rt containers.Runtime, hc HealthChecker, cfg config.SandboxConfig) *Runner {
	return &Runner{runtime: rt, health: hc, cfg: cfg, logger: logging.New("sandbox")}
}

// Run executes the steps in order, stopping at the first failure. The
// service container, once started, is logged and removed before Run returns
// on every path, including cancellation of ctx.
func (r *Runner) Run(ctx context.Context, req Request) (res Result) {
	ctx, span := otel.Tracer("healloop/sandbox").Start(ctx, "sandbox.round")
	span.SetAttributes(
		attribute.String("image_tag", req.ImageTag),
		attribute.String("container", req.ContainerName),
		attribute.Int("port", req.Port),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("ok", res.OK), attribute.String("failed_step", string(res.FailedStep)))
		if !res.OK {
			span.SetStatus(codes.Error, string(res.FailedStep))
		}
		span.End()
	}()

	start := time.Now()
	if err := req.Files.Materialize(req.Dir); err != nil {
		r.observe(StepMaterialize, start, false)
		res.FailedStep = StepMaterialize
		res.BuildTail = err.Error()
		return res
	}
	r.observe(StepMaterialize, start, true)

	build := r.step(ctx, StepBuild, r.cfg.BuildTimeout, func(ctx context.Context) (containers.Output, error) {
		return r.runtime.Build(ctx, req.ImageTag, req.Dir)
	})
	res.BuildTail = r.tail(build)
	if !build.OK() {
		res.FailedStep = StepBuild
		return res
	}

	testName := req.ContainerName + "-test"
	test := r.step(ctx, StepTest, r.cfg.TestTimeout, func(ctx context.Context) (containers.Output, error) {
		return r.runtime.RunTest(ctx, req.ImageTag, testName, r.cfg.TestCommand)
	})
	res.TestTail = r.tail(test)
	if !test.OK() {
		// --rm does not fire when the CLI is killed by a timeout or a signal.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		r.remove(cctx, testName)
		cancel()
		res.FailedStep = StepTest
		return res
	}

	var runtimeLog strings.Builder
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		logs, err := r.runtime.Logs(cctx, req.ContainerName)
		if err != nil {
			fmt.Fprintf(&runtimeLog, "[logs] unavailable: %v\n", err)
		}
		if strings.TrimSpace(logs) != "" {
			fmt.Fprintf(&runtimeLog, "[logs]\n%s", logs)
		}
		r.remove(cctx, req.ContainerName)
		res.RuntimeTail = tailString(runtimeLog.String(), r.cfg.TailChars)
	}()

	started := r.step(ctx, StepStart, r.cfg.StartTimeout, func(ctx context.Context) (containers.Output, error) {
		return r.runtime.RunDetached(ctx, req.ImageTag, req.ContainerName, req.Port, r.cfg.ServicePort)
	})
	fmt.Fprintf(&runtimeLog, "[start] exit=%d %s\n", started.ExitCode, strings.TrimSpace(started.Log))
	if !started.OK() {
		res.FailedStep = StepStart
		return res
	}

	hctx := ctx
	if r.HealthTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, r.HealthTimeout)
		defer cancel()
	}
	hstart := time.Now()
	res.Health = r.health.Check(hctx, req.Port, req.Routes)
	r.observe(StepHealth, hstart, res.Health.Healthy)
	fmt.Fprintf(&runtimeLog, "[health] %s\n", res.Health.Status)
	if !res.Health.Healthy {
		res.FailedStep = StepHealth
		return res
	}

	res.OK = true
	return res
}

// step runs fn under its own timeout. An execution error is folded into
// the output so callers only ever see a failed step.
func (r *Runner) step(ctx context.Context, name Step, timeout time.Duration, fn func(context.Context) (containers.Output, error)) containers.Output {
	ctx, span := otel.Tracer("healloop/sandbox").Start(ctx, "sandbox."+string(name))
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := fn(ctx)
	if err != nil {
		if out.ExitCode == 0 {
			out.ExitCode = 1
		}
		out.Log += fmt.Sprintf("\n[%s] %v", name, err)
	}
	ok := out.OK()
	r.observe(name, start, ok)
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode), attribute.Bool("timed_out", out.TimedOut))
	if !ok {
		span.SetStatus(codes.Error, fmt.Sprintf("exit %d", out.ExitCode))
		r.logger.Info("step failed", "step", name, "exit_code", out.ExitCode, "timed_out", out.TimedOut)
	}
	return out
}

func (r *Runner) remove(ctx context.Context, name string) {
	if err := r.runtime.Remove(ctx, name); err != nil {
		r.logger.Warn("container removal failed", "container", name, "error", err)
	}
}

func (r *Runner) observe(step Step, start time.Time, ok bool) {
	if r.OnStep != nil {
		r.OnStep(step, time.Since(start), ok)
	}
}

func (r *Runner) tail(o containers.Output) string {
	return tailString(o.Log, r.cfg.TailChars)
}

// tailString keeps the last n bytes of s without splitting a rune.
func tailString(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
