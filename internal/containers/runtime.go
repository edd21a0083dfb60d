// Package containers drives the container runtime CLI and allocates the
// per-round names and ports that keep concurrent runs apart.
package containers

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyCommand is returned when a command has no program to run.
var ErrEmptyCommand = errors.New("empty command")

// TimeoutExitCode is reported when a step's deadline expires.
const TimeoutExitCode = 124

// Output is the result of one runtime CLI invocation.
type Output struct {
	ExitCode int
	Log      string // combined stdout and stderr
	TimedOut bool
	Duration time.Duration
}

// OK reports a zero exit code.
func (o Output) OK() bool { return o.ExitCode == 0 && !o.TimedOut }

// Runtime is the set of container operations a round needs. An error is
// returned only when the command could not be executed at all; a failing
// build or test is a non-zero ExitCode.
type Runtime interface {
	Build(ctx context.Context, imageTag, contextDir string) (Output, error)
	RunTest(ctx context.Context, imageTag, containerName string, command []string) (Output, error)
	RunDetached(ctx context.Context, imageTag, containerName string, hostPort, servicePort int) (Output, error)
	Logs(ctx context.Context, containerName string) (string, error)
	Remove(ctx context.Context, containerName string) error
}
