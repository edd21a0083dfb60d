package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/healloop/internal/containers"
	"github.com/jordanhubbard/healloop/internal/health"
	"github.com/jordanhubbard/healloop/pkg/config"
	"github.com/jordanhubbard/healloop/pkg/models"
)

type fakeRuntime struct {
	mu       sync.Mutex
	build    containers.Output
	buildErr error
	test     containers.Output
	onTest   func()
	start    containers.Output
	logs     string
	calls    []string
	removed  []string
	running  map[string]bool
}

func (f *fakeRuntime) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeRuntime) Build(ctx context.Context, tag, dir string) (containers.Output, error) {
	f.record("build")
	return f.build, f.buildErr
}

func (f *fakeRuntime) RunTest(ctx context.Context, tag, name string, cmd []string) (containers.Output, error) {
	f.record("test")
	if f.onTest != nil {
		f.onTest()
	}
	return f.test, nil
}

func (f *fakeRuntime) RunDetached(ctx context.Context, tag, name string, hostPort, servicePort int) (containers.Output, error) {
	f.record("start")
	f.mu.Lock()
	if f.running == nil {
		f.running = map[string]bool{}
	}
	f.running[name] = true
	f.mu.Unlock()
	return f.start, nil
}

func (f *fakeRuntime) Logs(ctx context.Context, name string) (string, error) {
	f.record("logs")
	return f.logs, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.record("remove")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	delete(f.running, name)
	return nil
}

type fakeHealth struct{ result health.Result }

func (f fakeHealth) Check(ctx context.Context, port int, routes []string) health.Result {
	return f.result
}

func testRequest(t *testing.T) Request {
	return Request{
		Files: models.FileSet{
			App: "a", Requirements: "r", Tests: "t", Dockerfile: "d",
		},
		Dir:           t.TempDir(),
		ImageTag:      "healloop:test-r1",
		ContainerName: "healloop-test-r1-abcd1234",
		Port:          23456,
		Routes:        []string{"/health", "/users"},
	}
}

func testConfig() config.SandboxConfig {
	cfg := config.DefaultConfig().Sandbox
	cfg.TailChars = 200
	return cfg
}

func TestRun_Healthy(t *testing.T) {
	rt := &fakeRuntime{logs: "INFO: Uvicorn running on http://0.0.0.0:8000"}
	r := NewRunner(rt, fakeHealth{health.Result{Healthy: true, Attempts: 1, Status: "/health:200 /users:200"}}, testConfig())

	var steps []Step
	r.OnStep = func(s Step, d time.Duration, ok bool) { steps = append(steps, s) }

	res := r.Run(context.Background(), testRequest(t))
	require.True(t, res.OK)
	assert.Empty(t, res.FailedStep)
	assert.Equal(t, []string{"build", "test", "start", "logs", "remove"}, rt.calls)
	assert.Empty(t, rt.running, "service container must be removed")
	assert.Contains(t, res.RuntimeTail, "/users:200")
	assert.Contains(t, res.RuntimeTail, "Uvicorn running")
	assert.Equal(t, []Step{StepMaterialize, StepBuild, StepTest, StepStart, StepHealth}, steps)
}

func TestRun_BuildFailureStopsEarly(t *testing.T) {
	rt := &fakeRuntime{build: containers.Output{ExitCode: 1, Log: "failed to solve: dockerfile parse error"}}
	r := NewRunner(rt, fakeHealth{}, testConfig())

	res := r.Run(context.Background(), testRequest(t))
	assert.False(t, res.OK)
	assert.Equal(t, StepBuild, res.FailedStep)
	assert.Equal(t, []string{"build"}, rt.calls)
	assert.Contains(t, res.BuildTail, "dockerfile parse error")
}

func TestRun_BuildExecErrorIsFailure(t *testing.T) {
	rt := &fakeRuntime{buildErr: errors.New("docker: executable file not found")}
	r := NewRunner(rt, fakeHealth{}, testConfig())

	res := r.Run(context.Background(), testRequest(t))
	assert.Equal(t, StepBuild, res.FailedStep)
	assert.Contains(t, res.BuildTail, "executable file not found")
}

func TestRun_TestFailureNoServiceStarted(t *testing.T) {
	rt := &fakeRuntime{test: containers.Output{ExitCode: 1, Log: "E   ModuleNotFoundError: No module named 'requests'"}}
	r := NewRunner(rt, fakeHealth{}, testConfig())

	res := r.Run(context.Background(), testRequest(t))
	assert.Equal(t, StepTest, res.FailedStep)
	assert.NotContains(t, rt.calls, "start")
	assert.Contains(t, res.TestTail, "ModuleNotFoundError")
}

func TestRun_TestTimeoutRemovesTestContainer(t *testing.T) {
	rt := &fakeRuntime{test: containers.Output{ExitCode: containers.TimeoutExitCode, TimedOut: true}}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)

	res := r.Run(context.Background(), req)
	assert.Equal(t, StepTest, res.FailedStep)
	assert.Equal(t, []string{req.ContainerName + "-test"}, rt.removed)
}

func TestRun_TestFailureRemovesTestContainer(t *testing.T) {
	rt := &fakeRuntime{test: containers.Output{ExitCode: 1, Log: "1 failed"}}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)

	res := r.Run(context.Background(), req)
	assert.Equal(t, StepTest, res.FailedStep)
	assert.Equal(t, []string{req.ContainerName + "-test"}, rt.removed)
}

func TestRun_CancelledDuringTestRemovesTestContainer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := &fakeRuntime{
		test:   containers.Output{ExitCode: containers.TimeoutExitCode, TimedOut: true},
		onTest: cancel,
	}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)

	res := r.Run(ctx, req)
	assert.Equal(t, StepTest, res.FailedStep)
	assert.Equal(t, []string{req.ContainerName + "-test"}, rt.removed)
}

func TestRun_InterruptedTestRemovesTestContainer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A killed CLI reports a plain non-zero exit, not a timeout.
	rt := &fakeRuntime{
		test:   containers.Output{ExitCode: -1, Log: "signal: interrupt"},
		onTest: cancel,
	}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)

	r.Run(ctx, req)
	assert.Equal(t, []string{req.ContainerName + "-test"}, rt.removed)
	assert.NotContains(t, rt.calls, "start")
}

func TestRun_StartFailureStillCleansUp(t *testing.T) {
	rt := &fakeRuntime{start: containers.Output{ExitCode: 125, Log: "Bind for 0.0.0.0:23456 failed: port is already allocated"}}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)

	res := r.Run(context.Background(), req)
	assert.Equal(t, StepStart, res.FailedStep)
	assert.Contains(t, rt.removed, req.ContainerName)
	assert.Contains(t, res.RuntimeTail, "port is already allocated")
}

func TestRun_UnhealthyCleansUp(t *testing.T) {
	rt := &fakeRuntime{}
	hc := fakeHealth{health.Result{Attempts: 12, Status: "health check failed after 12 attempts: /health:200 /users:404"}}
	r := NewRunner(rt, hc, testConfig())
	req := testRequest(t)

	res := r.Run(context.Background(), req)
	assert.Equal(t, StepHealth, res.FailedStep)
	assert.Empty(t, rt.running)
	assert.Contains(t, res.RuntimeTail, "health check failed")
}

func TestRun_CancelledContextStillRemoves(t *testing.T) {
	rt := &fakeRuntime{}
	ctx, cancel := context.WithCancel(context.Background())
	hc := cancellingHealth{cancel: cancel}
	r := NewRunner(rt, hc, testConfig())
	req := testRequest(t)

	res := r.Run(ctx, req)
	assert.False(t, res.OK)
	assert.Equal(t, []string{req.ContainerName}, rt.removed, "cleanup must run on a detached context")
}

type cancellingHealth struct{ cancel context.CancelFunc }

func (c cancellingHealth) Check(ctx context.Context, port int, routes []string) health.Result {
	c.cancel()
	return health.Result{Status: "health check failed: context canceled"}
}

func TestRun_MaterializesFiles(t *testing.T) {
	rt := &fakeRuntime{build: containers.Output{ExitCode: 1}}
	r := NewRunner(rt, fakeHealth{}, testConfig())
	req := testRequest(t)
	r.Run(context.Background(), req)

	for _, s := range models.Slots {
		assert.FileExists(t, req.Dir+"/"+string(s))
	}
}

func TestTailString(t *testing.T) {
	assert.Equal(t, "short", tailString("short", 10))
	assert.Equal(t, "6789", tailString("0123456789", 4))
	assert.Equal(t, "all", tailString("all", 0))

	s := strings.Repeat("é", 10) // two bytes per rune
	got := tailString(s, 5)
	assert.Equal(t, "éé", got, "must not start mid-rune")
}
