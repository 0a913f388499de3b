package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompositeListener(t *testing.T) {
	var calls []string
	a := ListenerFunc(func(context.Context, BusEvent) { calls = append(calls, "a") })
	boom := errors.New("boom")
	b := func(context.Context, BusEvent) error { calls = append(calls, "b"); return boom }

	require.NoError(t, CompositeListener()(context.Background(), BusEvent{}))
	require.NoError(t, CompositeListener(nil, a)(context.Background(), BusEvent{}))

	err := CompositeListener(a, nil, b, a)(context.Background(), BusEvent{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a", "a", "b", "a"}, calls)
}

func TestLoggingListener(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLoggingListener(logger)

	r := NewRiskAssessment(72)
	yes := true
	cmd := CommandMessage{ID: "a1", SessionID: "s1"}
	require.NoError(t, l(context.Background(), BusEvent{Phase: PhaseRiskAssessed, Command: cmd, Risk: &r, RequiresApproval: &yes}))
	require.NoError(t, l(context.Background(), BusEvent{Phase: PhaseFailed, Command: cmd, Result: &CommandResult{Message: "exit 2"}}))

	out := buf.String()
	require.Contains(t, out, "msg=workflow_risk_assessed")
	require.Contains(t, out, "risk_score=72")
	require.Contains(t, out, "requires_approval=true")
	require.Contains(t, out, "level=ERROR")
	require.Contains(t, out, `error="exit 2"`)
	require.Equal(t, 2, strings.Count(out, "action_id=a1"))
}

func TestBasicMetrics(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Second)
	cmd := CommandMessage{ID: "a", Timestamp: start}

	for _, ev := range []BusEvent{
		{Phase: PhaseSubmitted, Command: cmd},
		{Phase: PhaseApproved, Command: cmd, ApprovedBy: SystemAutoApprover},
		{Phase: PhaseReadyToRun, Command: cmd},
		{Phase: PhaseOutput, Command: cmd},
		{Phase: PhaseCompleted, Command: cmd, Timestamp: start.Add(2 * time.Second)},
		{Phase: PhaseSubmitted, Command: cmd},
		{Phase: PhaseImmediateExecuteApproval, Command: cmd},
		{Phase: PhaseSubmitted, Command: cmd},
	} {
		require.NoError(t, m.Listen(ctx, ev))
	}

	s := m.Snapshot()
	require.Equal(t, int64(3), s.Submitted)
	require.Equal(t, int64(1), s.Approved)
	require.Equal(t, int64(1), s.AutoApproved)
	require.Equal(t, int64(1), s.OutOfOrder)
	require.Equal(t, int64(1), s.Dispatched)
	require.Equal(t, int64(1), s.Completed)
	require.Equal(t, int64(1), s.OutputChunks)
	require.Equal(t, int64(2), s.InFlight)
	require.Equal(t, 2*time.Second, s.AvgDuration)
}
