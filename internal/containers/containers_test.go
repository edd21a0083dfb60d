package containers

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeBinary writes a shell script standing in for the docker CLI.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-docker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLIRuntime_BuildArgs(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `echo "$@"`))
	out, err := r.Build(context.Background(), "healloop:abc-r1", "/tmp/ctx")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !out.OK() {
		t.Fatalf("expected success, got exit %d", out.ExitCode)
	}
	if got := strings.TrimSpace(out.Log); got != "build -t healloop:abc-r1 /tmp/ctx" {
		t.Errorf("unexpected args: %q", got)
	}
}

func TestCLIRuntime_RunTestOverridesEntrypoint(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `echo "$@"`))
	out, err := r.RunTest(context.Background(), "img:t", "c1", []string{"pytest", "-q"})
	if err != nil {
		t.Fatal(err)
	}
	want := "run --rm --name c1 --entrypoint pytest img:t -q"
	if got := strings.TrimSpace(out.Log); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := r.RunTest(context.Background(), "img:t", "c1", nil); err != ErrEmptyCommand {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestCLIRuntime_RunDetachedPublishesPort(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `echo "$@"`))
	out, _ := r.RunDetached(context.Background(), "img:t", "c1", 23456, 8000)
	if !strings.Contains(out.Log, "-p 23456:8000") {
		t.Errorf("port mapping missing: %q", out.Log)
	}
}

func TestCLIRuntime_NonZeroExit(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `echo "failed to solve: boom" >&2; exit 3`))
	out, err := r.Build(context.Background(), "img:t", ".")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if out.ExitCode != 3 || out.OK() {
		t.Errorf("exit code = %d", out.ExitCode)
	}
	if !strings.Contains(out.Log, "failed to solve") {
		t.Errorf("stderr not captured: %q", out.Log)
	}
}

func TestCLIRuntime_Timeout(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `exec sleep 5`))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out, err := r.Build(ctx, "img:t", ".")
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !out.TimedOut || out.ExitCode != TimeoutExitCode {
		t.Errorf("expected timeout exit %d, got %+v", TimeoutExitCode, out)
	}
}

func TestCLIRuntime_MissingBinary(t *testing.T) {
	r := NewCLIRuntime(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := r.Build(context.Background(), "img:t", "."); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestCLIRuntime_RemoveMissingContainer(t *testing.T) {
	r := NewCLIRuntime(fakeBinary(t, `echo "Error: No such container: c1" >&2; exit 1`))
	if err := r.Remove(context.Background(), "c1"); err != nil {
		t.Errorf("removing an absent container should succeed: %v", err)
	}
}

func TestImageTag(t *testing.T) {
	tag, err := ImageTag("HealLoop", "20261019T101010-ab12", 2)
	if err != nil {
		t.Fatal(err)
	}
	if tag != "healloop:20261019t101010-ab12-r2" {
		t.Errorf("tag = %q", tag)
	}

	if _, err := ImageTag("bad prefix!", "x", 1); err == nil {
		t.Error("expected invalid tag error")
	}
}

func TestContainerName_Unique(t *testing.T) {
	a := ContainerName("healloop", "run/1", 1)
	b := ContainerName("healloop", "run/1", 1)
	if a == b {
		t.Errorf("names must differ: %s", a)
	}
	if !strings.HasPrefix(a, "healloop-run-1-r1-") {
		t.Errorf("unexpected name %q", a)
	}
}

func TestRandomPorts_Acquire(t *testing.T) {
	p := &RandomPorts{Min: 20000, Max: 45000}
	port, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if port < 20000 || port > 45000 {
		t.Errorf("port %d out of range", port)
	}
}

func TestRandomPorts_SkipsBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	p := &RandomPorts{Min: busy, Max: busy + 1}
	for i := 0; i < 10; i++ {
		port, err := p.Acquire(context.Background())
		if err != nil {
			continue
		}
		if port == busy {
			t.Fatalf("acquired busy port %d", busy)
		}
	}

	if _, err := (&RandomPorts{Min: 10, Max: 10}).Acquire(context.Background()); err == nil {
		t.Error("empty range should fail")
	}
}

func TestRedisLeaser_Key(t *testing.T) {
	l := &RedisLeaser{prefix: "healloop:port:"}
	if got := l.key(23456); got != "healloop:port:"+strconv.Itoa(23456) {
		t.Errorf("key = %q", got)
	}
}

func TestRedisLeaser_ReleaseLogsFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	var buf bytes.Buffer
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	leaser := &RedisLeaser{
		client: client,
		prefix: "healloop:port:",
		logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	leaser.Release(context.Background(), 23456)
	if !strings.Contains(buf.String(), "port lease release failed") || !strings.Contains(buf.String(), "port=23456") {
		t.Errorf("release failure not logged: %q", buf.String())
	}
}
