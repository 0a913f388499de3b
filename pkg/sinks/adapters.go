package sinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrijr/shellguard/pkg/api"
)

// ReviewAdapter maps bus events onto a ReviewSink.
type ReviewAdapter struct {
	sink ReviewSink
}

func NewReviewAdapter(s ReviewSink) *ReviewAdapter { return &ReviewAdapter{sink: s} }

func (a *ReviewAdapter) HandleEvent(ctx context.Context, ev api.BusEvent) error {
	switch ev.Phase {
	case api.PhasePendingApproval:
		return a.sink.OnCommandForReview(ctx, ev.Command)
	case api.PhaseApproved:
		return a.sink.OnCommandApproved(ctx, ev.Command, orDefault(ev.ApprovedBy, unknownActor))
	case api.PhaseRejected:
		return a.sink.OnCommandRejected(ctx, ev.Command,
			orDefault(ev.RejectedBy, unknownActor),
			orDefault(ev.RejectionReason, noReasonGiven))
	case api.PhaseRiskAssessed:
		if ev.RequiresApproval != nil && !*ev.RequiresApproval {
			return a.sink.OnCommandAutoApproved(ctx, ev.Command)
		}
	}
	return nil
}

// OutputAdapter turns lifecycle events into status lines on an OutputSink
// and passes OUTPUT events through unchanged.
type OutputAdapter struct {
	sink OutputSink
}

func NewOutputAdapter(s OutputSink) *OutputAdapter { return &OutputAdapter{sink: s} }

func (a *OutputAdapter) HandleEvent(ctx context.Context, ev api.BusEvent) error {
	if ev.Phase == api.PhaseOutput {
		if ev.Output == nil {
			return nil
		}
		return a.sink.OnTerminalOutput(ctx, *ev.Output)
	}
	msg, ok := StatusMessage(ev)
	if !ok {
		return nil
	}
	return a.sink.OnTerminalOutput(ctx, api.TerminalOutput{
		SessionID: ev.Command.SessionID,
		Output:    msg,
		Timestamp: ev.Timestamp,
	})
}

// StatusMessage renders the console line for a lifecycle event. ok is false
// for phases that produce no line.
func StatusMessage(ev api.BusEvent) (string, bool) {
	switch ev.Phase {
	case api.PhaseSubmitted:
		return fmt.Sprintf("Action '%s' submitted for processing", ev.Command.Command), true

	case api.PhasePendingApproval:
		risk := ev.Risk
		if risk == nil {
			risk = ev.Command.Risk
		}
		if risk == nil {
			return "Action pending approval", true
		}
		return fmt.Sprintf("Action pending approval (Risk: %s)", risk.Level), true

	case api.PhaseApproved:
		return fmt.Sprintf("Action approved by %s. Executing...", orDefault(ev.ApprovedBy, unknownActor)), true

	case api.PhaseRejected:
		return fmt.Sprintf("Action rejected by %s: %s",
			orDefault(ev.RejectedBy, unknownActor),
			orDefault(ev.RejectionReason, noReasonGiven)), true

	case api.PhaseCompleted:
		r := ev.Result
		if r != nil && r.Success {
			return fmt.Sprintf("Action completed successfully (%dms)", r.ExecutionTime.Milliseconds()), true
		}
		code := defaultExitCode
		var stderr string
		if r != nil {
			if r.ExitCode != nil {
				code = *r.ExitCode
			}
			stderr = r.Stderr
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Action failed (exit code: %d)", code)
		if stderr != "" {
			b.WriteString("\n--- ERROR ---\n")
			b.WriteString(stderr)
		}
		return b.String(), true

	case api.PhaseFailed:
		msg := unknownError
		if ev.Result != nil && ev.Result.Message != "" {
			msg = ev.Result.Message
		}
		return "Action execution failed: " + msg, true
	}
	return "", false
}

// CompletionAdapter forwards COMPLETED and FAILED to a CompletionSink.
type CompletionAdapter struct {
	sink CompletionSink
}

func NewCompletionAdapter(s CompletionSink) *CompletionAdapter { return &CompletionAdapter{sink: s} }

func (a *CompletionAdapter) HandleEvent(ctx context.Context, ev api.BusEvent) error {
	switch ev.Phase {
	case api.PhaseCompleted:
		return a.sink.OnCommandCompleted(ctx, resultOf(ev, true))
	case api.PhaseFailed:
		return a.sink.OnCommandFailed(ctx, ev.Command, resultOf(ev, false).Message)
	}
	return nil
}

// resultOf returns the event's result or a placeholder when the publisher
// attached none.
func resultOf(ev api.BusEvent, success bool) api.CommandResult {
	if ev.Result != nil {
		return *ev.Result
	}
	msg := "Command failed"
	if success {
		msg = "Command completed"
	}
	return api.CommandResult{
		ActionID:  ev.Command.ID,
		SessionID: ev.Command.SessionID,
		Success:   success,
		Message:   msg,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
