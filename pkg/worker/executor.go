package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/api"
)

// ErrUnsupportedCommand is returned by executors for command types they
// cannot run.
var ErrUnsupportedCommand = errors.New("unsupported command type")

// DefaultShell runs TEXT and LINE commands.
const DefaultShell = "/bin/sh"

// waitDelay caps how long Run waits for output pipes after the process was
// killed, since background children may keep them open.
const waitDelay = time.Second

// Result is what an executor observed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor performs a released action. A non-nil error means the action
// could not be run at all; a non-zero ExitCode means it ran and failed.
type Executor interface {
	Execute(ctx context.Context, t taskqueue.Task) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t taskqueue.Task) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, t taskqueue.Task) (Result, error) {
	return f(ctx, t)
}

// ShellExecutor runs TEXT and LINE commands with `<shell> -c`.
type ShellExecutor struct {
	Shell string
	// Env is appended to the current environment.
	Env []string
}

func (s ShellExecutor) Execute(ctx context.Context, t taskqueue.Task) (Result, error) {
	switch strings.ToUpper(t.Command) {
	case api.CommandText, api.CommandLine:
	default:
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s", ErrUnsupportedCommand, t.Command)
	}

	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.CommandContext(ctx, shell, "-c", t.Parameter)
	cmd.Dir = t.WorkingDirectory
	cmd.WaitDelay = waitDelay
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

// EchoExecutor prints the command instead of running it.
type EchoExecutor struct{}

func (EchoExecutor) Execute(ctx context.Context, t taskqueue.Task) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	var out string
	switch strings.ToUpper(t.Command) {
	case api.CommandText, api.CommandLine:
		out = t.Parameter + "\n"
	default:
		out = fmt.Sprintf("[%s %s]\n", strings.ToUpper(t.Command), t.Parameter)
	}
	return Result{Stdout: out}, nil
}
