package containers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jordanhubbard/healloop/internal/logging"
)

// CLIRuntime implements Runtime with the docker (or podman) command line.
type CLIRuntime struct {
	Binary string
	logger *slog.Logger
}

// NewCLIRuntime creates a runtime for binary, "docker" when empty.
func NewCLIRuntime(binary string) *CLIRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &CLIRuntime{Binary: binary, logger: logging.New("containers")}
}

func (r *CLIRuntime) Build(ctx context.Context, imageTag, contextDir string) (Output, error) {
	return r.run(ctx, r.Binary, "build", "-t", imageTag, contextDir)
}

// RunTest runs command in a throwaway container as the entrypoint override.
func (r *CLIRuntime) RunTest(ctx context.Context, imageTag, containerName string, command []string) (Output, error) {
	if len(command) == 0 {
		return Output{ExitCode: 1}, ErrEmptyCommand
	}
	args := []string{r.Binary, "run", "--rm", "--name", containerName, "--entrypoint", command[0], imageTag}
	return r.run(ctx, append(args, command[1:]...)...)
}

func (r *CLIRuntime) RunDetached(ctx context.Context, imageTag, containerName string, hostPort, servicePort int) (Output, error) {
	return r.run(ctx, r.Binary, "run", "-d",
		"--name", containerName,
		"-p", fmt.Sprintf("%d:%d", hostPort, servicePort),
		imageTag)
}

func (r *CLIRuntime) Logs(ctx context.Context, containerName string) (string, error) {
	out, err := r.run(ctx, r.Binary, "logs", containerName)
	if err != nil {
		return out.Log, err
	}
	if !out.OK() {
		return out.Log, fmt.Errorf("%s logs exited %d", r.Binary, out.ExitCode)
	}
	return out.Log, nil
}

// Remove force-removes the container. A container that does not exist is
// not an error.
func (r *CLIRuntime) Remove(ctx context.Context, containerName string) error {
	out, err := r.run(ctx, r.Binary, "rm", "-f", containerName)
	if err != nil {
		return err
	}
	if !out.OK() && !strings.Contains(strings.ToLower(out.Log), "no such container") {
		return fmt.Errorf("%s rm exited %d: %s", r.Binary, out.ExitCode, strings.TrimSpace(out.Log))
	}
	return nil
}

func (r *CLIRuntime) run(ctx context.Context, cmdArgs ...string) (Output, error) {
	start := time.Now()
	out, code, timedOut, err := executeCommand(ctx, cmdArgs, "")
	o := Output{ExitCode: code, Log: out, TimedOut: timedOut, Duration: time.Since(start)}
	r.logger.Debug("runtime command finished",
		"cmd", strings.Join(cmdArgs[:min(len(cmdArgs), 3)], " "),
		"exit_code", code,
		"timed_out", timedOut,
		"duration", o.Duration)
	return o, err
}

// executeCommand runs cmdArgs and captures combined output. A context
// deadline is reported as exit code 124 with timedOut set and no error.
func executeCommand(ctx context.Context, cmdArgs []string, workDir string) (output string, exitCode int, timedOut bool, err error) {
	if len(cmdArgs) == 0 {
		return "", 1, false, ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = workDir
	cmd.WaitDelay = 5 * time.Second
	outputBytes, err := cmd.CombinedOutput()
	output = string(outputBytes)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output + fmt.Sprintf("\n[timeout] %s exceeded its deadline", cmdArgs[0]), TimeoutExitCode, true, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), false, nil
		}
		return output, 1, false, fmt.Errorf("failed to run %s: %w", cmdArgs[0], err)
	}
	return output, 0, false, nil
}
