package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/shellguard/pkg/api"
	"github.com/petrijr/shellguard/pkg/idgen"
	"github.com/petrijr/shellguard/pkg/risk"
)

type phaseRecorder struct {
	mu     sync.Mutex
	events []api.BusEvent
}

func (r *phaseRecorder) listen(_ context.Context, ev api.BusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *phaseRecorder) phasesOf(id string) []api.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []api.Phase
	for _, ev := range r.events {
		if ev.ActionID() == id {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *phaseRecorder) {
	t.Helper()
	opts = append([]Option{
		WithAssessor(risk.NewRuleBasedAssessor()),
		WithIDGenerator(idgen.NewSequential("cmd")),
	}, opts...)
	e := NewInMemoryEngine(opts...)
	rec := &phaseRecorder{}
	e.Bus().SubscribeAll(rec.listen)
	return e, rec
}

func line(id, session, text string) api.CommandMessage {
	return api.CommandMessage{ID: id, SessionID: session, Command: api.CommandLine, Parameter: text}
}

func phases(wf *api.ActionWorkflow) []api.Phase {
	var out []api.Phase
	for _, ev := range wf.Events() {
		out = append(out, ev.Phase)
	}
	return out
}

func TestSubmit_LowRiskIsAutoApprovedAndReleased(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t)

	wf, err := e.SubmitAction(ctx, line("a", "s1", "ls -la"))
	require.NoError(t, err)

	want := []api.Phase{api.PhaseSubmitted, api.PhaseRiskAssessed, api.PhaseApproved, api.PhaseReadyToRun}
	require.Equal(t, want, phases(wf))
	require.Equal(t, want, rec.phasesOf("a"))
	require.Equal(t, api.SystemAutoApprover, wf.ApprovedBy())

	ra := wf.Risk()
	require.NotNil(t, ra)
	require.Equal(t, 10, ra.Score)
	require.NotNil(t, wf.Command().Risk, "risk is attached to the command snapshot")

	required, ok := wf.RequiresApproval()
	require.True(t, ok)
	require.False(t, required)
}

func TestSubmit_RiskyActionWaitsForApproval(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	wf, err := e.SubmitAction(ctx, line("a", "s1", "sudo rm -rf /"))
	require.NoError(t, err)
	require.Equal(t, api.PhasePendingApproval, wf.Phase())
	require.Equal(t, api.RiskCritical, wf.Risk().Level)

	pending := e.GetPendingApprovals()
	require.Len(t, pending, 1)
	require.Equal(t, "a", pending[0].ID())
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SubmitAction(ctx, api.CommandMessage{Parameter: "ls"})
	require.ErrorIs(t, err, ErrInvalidCommand)

	wf, err := e.SubmitAction(ctx, api.CommandMessage{Command: api.CommandText, Parameter: "sudo ls"})
	require.NoError(t, err)
	require.Equal(t, "cmd-001", wf.ID())
	require.Equal(t, "default", wf.SessionID())

	_, err = e.SubmitAction(ctx, api.CommandMessage{ID: "cmd-001", Command: api.CommandText, Parameter: "ls"})
	require.ErrorIs(t, err, ErrDuplicateAction)
	require.Len(t, e.GetAllWorkflows(), 1)
}

type countingAssessor struct {
	calls int
}

func (c *countingAssessor) AssessRisk(context.Context, api.CommandMessage) api.RiskAssessment {
	c.calls++
	return api.NewRiskAssessment(95)
}

func (c *countingAssessor) RequiresApproval(r api.RiskAssessment) bool { return r.Level != api.RiskLow }

func TestSubmit_UpstreamRiskSkipsAssessor(t *testing.T) {
	ctx := context.Background()
	a := &countingAssessor{}
	e, _ := newTestEngine(t, WithAssessor(a))

	cmd := line("a", "s1", "rm -rf /").WithRisk(api.NewRiskAssessment(5), false)
	wf, err := e.SubmitAction(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, 0, a.calls)
	require.Equal(t, api.PhaseReadyToRun, wf.Phase())

	forced := line("b", "s2", "ls").WithRisk(api.NewRiskAssessment(5), true)
	wf, err = e.SubmitAction(ctx, forced)
	require.NoError(t, err)
	require.Equal(t, api.PhasePendingApproval, wf.Phase(), "upstream may force a review")

	_, err = e.SubmitAction(ctx, line("c", "s3", "ls"))
	require.NoError(t, err)
	require.Equal(t, 1, a.calls)
}

type fixedAssessor api.RiskAssessment

func (f fixedAssessor) AssessRisk(context.Context, api.CommandMessage) api.RiskAssessment {
	return api.RiskAssessment(f)
}

func (fixedAssessor) RequiresApproval(r api.RiskAssessment) bool { return r.Level != api.RiskLow }

func TestSubmit_AssessorLevelFollowsScore(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, WithAssessor(fixedAssessor{Score: 95, Level: api.RiskLow}))

	wf, err := e.SubmitAction(ctx, line("a", "s1", "ls"))
	require.NoError(t, err)
	require.Equal(t, api.PhasePendingApproval, wf.Phase())
	require.Equal(t, api.NewRiskAssessment(95), *wf.Risk())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := 0
	for _, ev := range rec.events {
		if ev.Phase == api.PhaseRiskAssessed {
			require.Equal(t, api.RiskCritical, ev.Risk.Level)
			require.Equal(t, api.RiskCritical, ev.Command.Risk.Level)
			seen++
		}
	}
	require.Equal(t, 1, seen)
}

func TestApprove_Guards(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("a", "s1", "sudo reboot"))
	require.NoError(t, err)

	require.False(t, e.ApproveAction(ctx, "missing", "alice"))
	require.True(t, e.ApproveAction(ctx, "a", "alice"))
	require.False(t, e.ApproveAction(ctx, "a", "bob"), "only PENDING_APPROVAL can be approved")
	require.False(t, e.RejectAction(ctx, "a", "bob", "too late"))
	require.False(t, e.ApproveActionOutOfOrder(ctx, "a", "bob", "too late"))

	wf := e.GetWorkflow("a")
	require.Equal(t, api.PhaseReadyToRun, wf.Phase())
	require.Equal(t, "alice", wf.ApprovedBy())
}

func TestQueue_HeadOfLineBlockingAndRelease(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("a", "s1", "sudo apt upgrade"))
	require.NoError(t, err)
	b, err := e.SubmitAction(ctx, line("b", "s1", "ls"))
	require.NoError(t, err)

	require.Equal(t, api.PhaseApproved, b.Phase(), "b is approved but blocked behind a")
	require.NotContains(t, rec.phasesOf("b"), api.PhaseReadyToRun)

	require.True(t, e.ApproveAction(ctx, "a", "alice"))
	require.Equal(t, api.PhaseReadyToRun, e.GetWorkflow("a").Phase())
	require.Equal(t, api.PhaseApproved, b.Phase(), "one action runs at a time")

	require.True(t, e.MarkExecutionStarted(ctx, "a"))
	require.True(t, e.CompleteAction(ctx, "a", api.CommandResult{Success: true, Message: "done"}))
	require.Equal(t, api.PhaseReadyToRun, b.Phase())

	done := e.GetWorkflow("a")
	require.NotNil(t, done, "reaped workflows stay queryable")
	require.Equal(t, api.PhaseCompleted, done.Phase())
	require.Equal(t, "a", done.Result().ActionID)
	require.Equal(t, "s1", done.Result().SessionID)
	require.Len(t, e.GetAllWorkflows(), 1)
}

func TestQueue_RejectionUnblocks(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("a", "s1", "chmod 777 /etc"))
	require.NoError(t, err)
	b, err := e.SubmitAction(ctx, line("b", "s1", "pwd"))
	require.NoError(t, err)

	require.True(t, e.RejectAction(ctx, "a", "alice", "nope"))

	a := e.GetWorkflow("a")
	require.Equal(t, api.PhaseRejected, a.Phase())
	require.True(t, a.IsCompleted())
	by, reason, ok := a.Rejection()
	require.True(t, ok)
	require.Equal(t, "alice", by)
	require.Equal(t, "nope", reason)
	require.NotContains(t, rec.phasesOf("a"), api.PhaseReadyToRun)

	require.Equal(t, api.PhaseReadyToRun, b.Phase())
	require.False(t, e.CompleteAction(ctx, "a", api.CommandResult{}), "rejected actions never run")
}

func TestQueue_OutOfOrderApproval(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("a", "s1", "sudo a"))
	require.NoError(t, err)
	_, err = e.SubmitAction(ctx, line("b", "s1", "sudo b"))
	require.NoError(t, err)

	require.True(t, e.ApproveActionOutOfOrder(ctx, "b", "carol", "prod is down"))

	b := e.GetWorkflow("b")
	require.Equal(t, api.PhaseReadyToRun, b.Phase())
	require.Equal(t, "carol (OUT_OF_ORDER: prod is down)", b.ApprovedBy())
	require.Equal(t, api.PhasePendingApproval, e.GetWorkflow("a").Phase())

	require.True(t, e.FailAction(ctx, "b", "exit status 1"))
	require.Equal(t, api.PhasePendingApproval, e.GetWorkflow("a").Phase(), "a still blocks")
}

func TestExecution_GuardsAndOutput(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("p", "s1", "sudo x"))
	require.NoError(t, err)
	require.False(t, e.CompleteAction(ctx, "p", api.CommandResult{Success: true}))
	require.False(t, e.FailAction(ctx, "p", "boom"))
	require.False(t, e.EmitOutput(ctx, "p", api.TerminalOutput{Output: "x"}))
	require.False(t, e.MarkExecutionStarted(ctx, "p"))

	_, err = e.SubmitAction(ctx, line("r", "s2", "echo hi"))
	require.NoError(t, err)
	require.True(t, e.MarkExecutionStarted(ctx, "r"))
	require.False(t, e.MarkExecutionStarted(ctx, "r"))

	require.True(t, e.EmitOutput(ctx, "r", api.TerminalOutput{Output: "hi\n"}))
	wf := e.GetWorkflow("r")
	require.Equal(t, api.PhaseOutput, wf.Phase())
	require.Equal(t, "s2", wf.Events()[len(wf.Events())-1].Output.SessionID)

	require.True(t, e.FailAction(ctx, "r", "killed"))
	require.False(t, e.FailAction(ctx, "r", "again"))
	require.False(t, e.CompleteAction(ctx, "r", api.CommandResult{}))

	res := e.GetWorkflow("r").Result()
	require.NotNil(t, res)
	require.False(t, res.Success)
	require.Equal(t, "killed", res.Message)
}

func TestSessions_AreIsolated(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SubmitAction(ctx, line("a", "s1", "sudo x"))
	require.NoError(t, err)
	other, err := e.SubmitAction(ctx, line("b", "s2", "ls"))
	require.NoError(t, err)
	require.Equal(t, api.PhaseReadyToRun, other.Phase())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, _ = e.SubmitAction(ctx, line("ok", "s1", "ls"))
	require.True(t, e.CompleteAction(ctx, "ok", api.CommandResult{Success: true}))

	_, _ = e.SubmitAction(ctx, line("bad", "s2", "ls"))
	require.True(t, e.FailAction(ctx, "bad", "boom"))

	_, _ = e.SubmitAction(ctx, line("no", "s3", "sudo x"))
	require.True(t, e.RejectAction(ctx, "no", "alice", "no"))

	_, _ = e.SubmitAction(ctx, line("wait", "s4", "sudo y"))

	st := e.GetWorkflowStats()
	require.Equal(t, 4, st.Total)
	require.Equal(t, 3, st.Completed)
	require.Equal(t, 1, st.Active)
	require.Equal(t, 1, st.PendingApproval)
	require.Equal(t, 2, st.Approved)
	require.Equal(t, 1, st.Rejected)
	require.Equal(t, 1, st.Failed)
	require.GreaterOrEqual(t, int64(st.AverageDuration), int64(0))
}

func TestCleanupCompleted(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, _ = e.SubmitAction(ctx, line("done", "s1", "ls"))
	require.True(t, e.CompleteAction(ctx, "done", api.CommandResult{Success: true}))
	_, _ = e.SubmitAction(ctx, line("no", "s2", "sudo x"))
	require.True(t, e.RejectAction(ctx, "no", "alice", "no"))
	_, _ = e.SubmitAction(ctx, line("wait", "s3", "sudo y"))

	require.Equal(t, 2, e.CleanupCompleted(0))
	require.Nil(t, e.GetWorkflow("done"))
	require.Nil(t, e.GetWorkflow("no"))
	require.NotNil(t, e.GetWorkflow("wait"))
	require.Equal(t, 1, e.GetWorkflowStats().Total)
	// Sessions with nothing left in them are forgotten.
	require.Equal(t, []string{"s3"}, e.Sessions().Sessions())

	// The id of a cleaned-up action can be reused.
	_, err := e.SubmitAction(ctx, line("no", "s2", "ls"))
	require.NoError(t, err)
}

func TestHistoryLimit(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, WithHistoryLimit(2))

	for _, id := range []string{"a", "b", "c"} {
		_, err := e.SubmitAction(ctx, line(id, "s1", "ls"))
		require.NoError(t, err)
		require.True(t, e.CompleteAction(ctx, id, api.CommandResult{Success: true}))
	}
	h := e.History()
	require.Len(t, h, 2)
	require.Equal(t, "b", h[0].ID())
	require.Nil(t, e.GetWorkflow("a"))
}

func TestSynchronousSinkDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	e.Bus().Subscribe(api.PhaseReadyToRun, func(ctx context.Context, ev api.BusEvent) error {
		id := ev.ActionID()
		e.MarkExecutionStarted(ctx, id)
		e.EmitOutput(ctx, id, api.TerminalOutput{Output: "out"})
		e.CompleteAction(ctx, id, api.CommandResult{Success: true})
		return nil
	})

	_, err := e.SubmitAction(ctx, line("a", "s1", "sudo x"))
	require.NoError(t, err)
	_, err = e.SubmitAction(ctx, line("b", "s1", "ls"))
	require.NoError(t, err)
	_, err = e.SubmitAction(ctx, line("c", "s1", "pwd"))
	require.NoError(t, err)

	require.True(t, e.ApproveAction(ctx, "a", "alice"))

	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, api.PhaseCompleted, e.GetWorkflow(id).Phase(), id)
	}
	require.Empty(t, e.GetAllWorkflows())
}

func TestConcurrentSubmissionsAndCompletions(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, WithIDGenerator(idgen.NewSequential("c")))

	var workers sync.WaitGroup
	e.Bus().Subscribe(api.PhaseReadyToRun, func(ctx context.Context, ev api.BusEvent) error {
		workers.Add(1)
		go func(id string) {
			defer workers.Done()
			e.MarkExecutionStarted(ctx, id)
			e.CompleteAction(ctx, id, api.CommandResult{Success: true})
		}(ev.ActionID())
		return nil
	})

	const sessions, perSession = 8, 10
	var submitters sync.WaitGroup
	for s := 0; s < sessions; s++ {
		submitters.Add(1)
		go func(s int) {
			defer submitters.Done()
			for i := 0; i < perSession; i++ {
				_, err := e.SubmitAction(ctx, api.CommandMessage{
					SessionID: string(rune('a' + s)),
					Command:   api.CommandText,
					Parameter: "echo hi",
				})
				if err != nil {
					t.Error(err)
				}
			}
		}(s)
	}
	submitters.Wait()

	require.Eventually(t, func() bool {
		return e.GetWorkflowStats().Completed == sessions*perSession
	}, 5*time.Second, 10*time.Millisecond)
	workers.Wait()
	require.Empty(t, e.GetAllWorkflows())
}

func TestCancelledCallerStillReleasesQueue(t *testing.T) {
	e, _ := newTestEngine(t)

	var readyErrs []error
	e.Bus().Subscribe(api.PhaseReadyToRun, func(ctx context.Context, _ api.BusEvent) error {
		readyErrs = append(readyErrs, ctx.Err())
		return nil
	})

	ctx := context.Background()
	blocker, err := e.SubmitAction(ctx, line("a", "s1", "rm notes.txt"))
	require.NoError(t, err)
	next, err := e.SubmitAction(ctx, line("b", "s1", "ls"))
	require.NoError(t, err)
	require.Equal(t, api.PhaseApproved, next.Phase())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.True(t, e.RejectAction(cancelled, blocker.ID(), "bob", "no"))

	require.Equal(t, api.PhaseReadyToRun, next.Phase())
	require.Equal(t, []error{nil}, readyErrs)
}

func TestCleanupCompletedDuringSubmitsKeepsEveryAction(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	stop := make(chan struct{})
	var janitor sync.WaitGroup
	janitor.Add(1)
	go func() {
		defer janitor.Done()
		for {
			select {
			case <-stop:
				return
			default:
				e.CleanupCompleted(time.Hour)
			}
		}
	}()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.SubmitAction(ctx, line(fmt.Sprintf("p%d", i), fmt.Sprintf("s%d", i%5), "sudo reboot"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(stop)
	janitor.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, e.GetPendingApprovals(), n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		require.True(t, e.ApproveAction(ctx, id, "alice"), id)
	}
}
