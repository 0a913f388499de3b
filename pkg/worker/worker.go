package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/api"
)

// DefaultTimeout bounds a single execution.
const DefaultTimeout = 30 * time.Second

// Worker pulls released actions from a Queue, runs them with an Executor
// and reports the outcome to the Engine.
type Worker struct {
	engine   api.Engine
	queue    taskqueue.Queue
	executor Executor
	timeout  time.Duration
	logger   *slog.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithTimeout bounds each execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.timeout = d
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Worker. A nil executor uses ShellExecutor.
func New(engine api.Engine, queue taskqueue.Queue, executor Executor, opts ...Option) *Worker {
	if executor == nil {
		executor = ShellExecutor{}
	}
	w := &Worker{
		engine:   engine,
		queue:    queue,
		executor: executor,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ProcessOne pulls a single task from the queue and executes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue error)
//   - processed == true: a task was executed; err is the execution error, if any.
//
// ctx bounds the dequeue and the execution. Outcomes are reported to the
// engine on a detached context so that stopping a worker never fails the
// actions released after the one it was running.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	report := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		// Dequeued during shutdown; leave it for the next worker.
		if qerr := w.queue.Enqueue(report, *task); qerr != nil {
			w.engine.FailAction(report, task.ActionID, "requeue: "+qerr.Error())
		}
		return false, err
	}

	execCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, runErr := w.executor.Execute(execCtx, *task)
	if res.Stdout != "" {
		w.engine.EmitOutput(report, task.ActionID, api.TerminalOutput{
			SessionID: task.SessionID,
			Output:    res.Stdout,
			Timestamp: time.Now(),
		})
	}

	switch {
	case runErr != nil:
		msg := runErr.Error()
		switch {
		case ctx.Err() != nil:
			msg = "interrupted: worker stopped"
		case errors.Is(runErr, context.DeadlineExceeded):
			msg = fmt.Sprintf("timed out after %s", w.timeout)
		}
		w.engine.FailAction(report, task.ActionID, msg)
		w.logger.WarnContext(ctx, "execution_failed",
			slog.String("action_id", task.ActionID),
			slog.Any("error", runErr),
		)
		return true, runErr

	case res.ExitCode != 0:
		msg := fmt.Sprintf("exit status %d", res.ExitCode)
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		w.engine.FailAction(report, task.ActionID, msg)
		return true, nil
	}

	exit := res.ExitCode
	w.engine.CompleteAction(report, task.ActionID, api.CommandResult{
		ActionID:      task.ActionID,
		SessionID:     task.SessionID,
		Success:       true,
		Message:       "ok",
		ExitCode:      &exit,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExecutionTime: res.Duration,
	})
	return true, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !processed {
			w.logger.ErrorContext(ctx, "dequeue_failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// NewExecutionSink returns a READY_TO_RUN listener that marks the action as
// started and hands it to the queue. If the queue refuses the task the
// action is failed. The hand-off ignores the publisher's cancellation: the
// approval is already recorded.
func NewExecutionSink(engine api.Engine, queue taskqueue.Queue) api.Listener {
	return func(ctx context.Context, ev api.BusEvent) error {
		if ev.Phase != api.PhaseReadyToRun {
			return nil
		}
		ctx = context.WithoutCancel(ctx)
		cmd := ev.Command
		if !engine.MarkExecutionStarted(ctx, cmd.ID) {
			return nil
		}
		err := queue.Enqueue(ctx, taskqueue.Task{
			ActionID:         cmd.ID,
			SessionID:        cmd.SessionID,
			Command:          cmd.Command,
			Parameter:        cmd.Parameter,
			WorkingDirectory: cmd.WorkingDirectory,
			EnqueuedAt:       time.Now(),
		})
		if err != nil {
			engine.FailAction(ctx, cmd.ID, "enqueue: "+err.Error())
			return fmt.Errorf("worker: enqueue %s: %w", cmd.ID, err)
		}
		return nil
	}
}
