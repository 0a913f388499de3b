package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/shellguard/internal/engine"
	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/api"
	"github.com/petrijr/shellguard/pkg/idgen"
	"github.com/petrijr/shellguard/pkg/risk"
)

func newHarness(t *testing.T, exec Executor, opts ...Option) (*engine.Engine, *taskqueue.InMemoryQueue, *Worker) {
	t.Helper()
	eng := engine.NewInMemoryEngine(
		engine.WithAssessor(risk.NewRuleBasedAssessor()),
		engine.WithIDGenerator(idgen.NewSequential("cmd")),
	)
	q := taskqueue.NewInMemoryQueue(16)
	eng.Bus().Subscribe(api.PhaseReadyToRun, NewExecutionSink(eng, q))
	return eng, q, New(eng, q, exec, opts...)
}

func submit(t *testing.T, eng *engine.Engine, session, text string) *api.ActionWorkflow {
	t.Helper()
	wf, err := eng.SubmitAction(context.Background(), api.CommandMessage{
		SessionID: session,
		Command:   api.CommandText,
		Parameter: text,
	})
	require.NoError(t, err)
	return wf
}

func TestWorker_CompletesAutoApprovedAction(t *testing.T) {
	eng, q, w := newHarness(t, EchoExecutor{})

	wf := submit(t, eng, "s1", "ls -la")
	require.Equal(t, api.PhaseExecutionStarted, wf.Phase())
	require.Equal(t, 1, q.Len())

	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.NoError(t, err)

	require.Equal(t, api.PhaseCompleted, wf.Phase())
	res := wf.Result()
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "ls -la\n", res.Stdout)
	require.Equal(t, 0, *res.ExitCode)

	var sawOutput bool
	for _, ev := range wf.Events() {
		if ev.Phase == api.PhaseOutput {
			sawOutput = true
			require.Equal(t, "ls -la\n", ev.Output.Output)
		}
	}
	require.True(t, sawOutput)
}

func TestWorker_PendingActionIsNotQueued(t *testing.T) {
	eng, q, w := newHarness(t, EchoExecutor{})

	wf := submit(t, eng, "s1", "sudo reboot now")
	require.Equal(t, api.PhasePendingApproval, wf.Phase())
	require.Equal(t, 0, q.Len())

	require.True(t, eng.ApproveAction(context.Background(), wf.ID(), "alice"))
	require.Equal(t, 1, q.Len())

	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.NoError(t, err)
	require.Equal(t, api.PhaseCompleted, wf.Phase())
}

func TestWorker_ReleasesSessionInOrder(t *testing.T) {
	eng, q, w := newHarness(t, EchoExecutor{})

	first := submit(t, eng, "s1", "pwd")
	second := submit(t, eng, "s1", "whoami")
	require.Equal(t, 1, q.Len(), "second action waits for the first")
	require.Equal(t, api.PhaseApproved, second.Phase())

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, api.PhaseCompleted, first.Phase())
	require.Equal(t, api.PhaseExecutionStarted, second.Phase())
	require.Equal(t, 1, q.Len())

	_, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, api.PhaseCompleted, second.Phase())
}

func TestWorker_NonZeroExitFails(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, taskqueue.Task) (Result, error) {
		return Result{ExitCode: 2, Stderr: "no such file\n"}, nil
	})
	eng, _, w := newHarness(t, exec)

	wf := submit(t, eng, "s1", "cat missing.txt")
	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.NoError(t, err)

	require.Equal(t, api.PhaseFailed, wf.Phase())
	require.Equal(t, "exit status 2: no such file", wf.Result().Message)
}

func TestWorker_ExecutorErrorFails(t *testing.T) {
	boom := errors.New("boom")
	exec := ExecutorFunc(func(context.Context, taskqueue.Task) (Result, error) {
		return Result{ExitCode: -1}, boom
	})
	eng, _, w := newHarness(t, exec)

	wf := submit(t, eng, "s1", "ls")
	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, api.PhaseFailed, wf.Phase())
	require.Equal(t, "boom", wf.Result().Message)
}

func TestWorker_TimeoutFails(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ taskqueue.Task) (Result, error) {
		<-ctx.Done()
		return Result{ExitCode: -1}, ctx.Err()
	})
	eng, _, w := newHarness(t, exec, WithTimeout(20*time.Millisecond))

	wf := submit(t, eng, "s1", "ls")
	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, api.PhaseFailed, wf.Phase())
	require.Contains(t, wf.Result().Message, "timed out")
}

func TestWorker_ProcessOneHonorsCancellation(t *testing.T) {
	_, _, w := newHarness(t, EchoExecutor{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	processed, err := w.ProcessOne(ctx)
	require.False(t, processed)
	require.Error(t, err)
}

func TestWorker_RunDrainsUntilCancelled(t *testing.T) {
	eng, _, w := newHarness(t, EchoExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	wfs := []*api.ActionWorkflow{
		submit(t, eng, "a", "ls"),
		submit(t, eng, "b", "pwd"),
		submit(t, eng, "a", "whoami"),
	}
	require.Eventually(t, func() bool {
		for _, wf := range wfs {
			if wf.Phase() != api.PhaseCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

type failingQueue struct{ taskqueue.Queue }

func (failingQueue) Enqueue(context.Context, taskqueue.Task) error { return errors.New("full") }

func TestExecutionSink_EnqueueFailureFailsAction(t *testing.T) {
	eng := engine.NewInMemoryEngine(engine.WithAssessor(risk.NewRuleBasedAssessor()))
	eng.Bus().Subscribe(api.PhaseReadyToRun, NewExecutionSink(eng, failingQueue{}))

	wf := submit(t, eng, "s1", "ls")
	require.Equal(t, api.PhaseFailed, wf.Phase())
	require.Equal(t, "enqueue: full", wf.Result().Message)
}

func TestExecutionSink_CancelledApproverStillQueues(t *testing.T) {
	eng, q, w := newHarness(t, EchoExecutor{})

	wf := submit(t, eng, "s1", "sudo systemctl restart nginx")
	require.Equal(t, api.PhasePendingApproval, wf.Phase())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, eng.ApproveAction(ctx, wf.ID(), "alice"))
	require.Equal(t, api.PhaseExecutionStarted, wf.Phase())
	require.Equal(t, 1, q.Len())

	processed, err := w.ProcessOne(context.Background())
	require.True(t, processed)
	require.NoError(t, err)
	require.Equal(t, api.PhaseCompleted, wf.Phase())
}

func TestWorker_StopLeavesQueuedActionsRunnable(t *testing.T) {
	started := make(chan string, 4)
	exec := ExecutorFunc(func(ctx context.Context, task taskqueue.Task) (Result, error) {
		started <- task.Parameter
		if task.Parameter == "ls a" {
			<-ctx.Done()
			return Result{ExitCode: -1}, ctx.Err()
		}
		return Result{Stdout: task.Parameter + "\n"}, nil
	})
	eng, q, w := newHarness(t, exec)

	a := submit(t, eng, "s1", "ls a")
	b := submit(t, eng, "s1", "ls b")
	c := submit(t, eng, "s1", "ls c")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case p := <-started:
		require.Equal(t, "ls a", p)
	case <-time.After(2 * time.Second):
		t.Fatalf("first action never started")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	require.Equal(t, api.PhaseFailed, a.Phase())
	require.Equal(t, "interrupted: worker stopped", a.Result().Message)
	require.Equal(t, api.PhaseExecutionStarted, b.Phase())
	require.Equal(t, api.PhaseApproved, c.Phase())
	require.Equal(t, 1, q.Len())

	next := New(eng, q, exec)
	for i := 0; i < 2; i++ {
		processed, err := next.ProcessOne(context.Background())
		require.True(t, processed)
		require.NoError(t, err)
	}
	require.Equal(t, api.PhaseCompleted, b.Phase())
	require.Equal(t, api.PhaseCompleted, c.Phase())
}

func TestWorker_CancelledProcessOneKeepsTask(t *testing.T) {
	eng, q, w := newHarness(t, EchoExecutor{})
	wf := submit(t, eng, "s1", "pwd")
	require.Equal(t, 1, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	processed, err := w.ProcessOne(ctx)
	require.False(t, processed)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, q.Len())
	require.Equal(t, api.PhaseExecutionStarted, wf.Phase())
}
