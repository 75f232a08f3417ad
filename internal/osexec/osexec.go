// Package osexec runs external CLI commands with bounded time, captures
// their output, and honors caller cancellation. It never interprets the
// output it captures — that is the parser's job.
package osexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Typed errors returned by Run. Callers should use errors.Is against these
// sentinels rather than inspecting error strings.
var (
	ErrSpawnFailed = errors.New("osexec: failed to spawn process")
	ErrTimedOut    = errors.New("osexec: command timed out")
	ErrCancelled   = errors.New("osexec: command cancelled")
	ErrNonzero     = errors.New("osexec: command exited non-zero")
)

// killGrace is how long we wait after SIGTERM before escalating to SIGKILL.
const killGrace = 3 * time.Second

// Result is the triple every Run call returns on a completed spawn,
// regardless of exit status.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Options configures a single Run call. Env, if non-nil, is appended to the
// current process environment rather than replacing it. Stdin, if non-nil,
// is written to the child's standard input before Wait.
type Options struct {
	Env      []string
	Stdin    []byte
	Dir      string
	TempDir  bool
	Timeout  time.Duration
}

// NonzeroError wraps ErrNonzero with the captured triple so callers (the
// adapter) can inspect stderr without a type assertion.
type NonzeroError struct {
	Result Result
}

func (e *NonzeroError) Error() string {
	return fmt.Sprintf("osexec: exit code %d: %s", e.Result.ExitCode, bytes.TrimSpace(e.Result.Stderr))
}

func (e *NonzeroError) Unwrap() error { return ErrNonzero }

// Run spawns cmd with args exactly once, waits for it to exit or for ctx to
// be cancelled, and returns the captured output. On timeout or cancellation
// the child is sent SIGTERM; if it has not exited after killGrace it is sent
// SIGKILL. The child runs in its own process group and both signals go to
// the whole group, so helpers it forked are stopped with it.
//
// A non-zero exit is reported as *NonzeroError wrapping ErrNonzero, carrying
// the full Result so the caller can inspect stderr; Run itself never decides
// whether a non-zero exit is a failure.
func Run(ctx context.Context, logger log.Logger, name string, args []string, opts Options) (Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.TempDir {
		dir, err := os.MkdirTemp("", "slurm-mcp-*")
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
		defer os.RemoveAll(dir)
		opts.Dir = dir
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if opts.Env != nil {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	if opts.Stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error

	select {
	case err = <-waitErr:
	case <-ctx.Done():
		level.Debug(logger).Log("msg", "terminating command", "cmd", name, "reason", ctx.Err())
		killProcessGroup(cmd, syscall.SIGTERM)

		select {
		case err = <-waitErr:
		case <-time.After(killGrace):
			killProcessGroup(cmd, syscall.SIGKILL)
			<-waitErr
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}, ErrTimedOut
		}

		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}, ErrCancelled
	}

	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &NonzeroError{Result: res}
		}

		return res, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	return res, nil
}

// killProcessGroup signals the whole process group so children of cmd (rare
// for Slurm CLIs, but salloc can fork helpers) die with it.
func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Signal(sig)

		return
	}

	_ = syscall.Kill(-pgid, sig)
}

// LookPath reports whether name is resolvable on PATH, the probe the
// adapter uses exactly once at startup to decide between the real and mock
// backends.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)

	return err == nil
}
