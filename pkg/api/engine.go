package api

import (
	"context"
	"time"
)

// Engine is the public contract of the command workflow engine.
//
// State-guard violations (unknown id, wrong phase) are reported as false or
// nil, never as errors. Only SubmitAction can fail.
type Engine interface {
	// SubmitAction registers a new action, assesses it and either parks it
	// for approval or approves it automatically.
	SubmitAction(ctx context.Context, cmd CommandMessage) (*ActionWorkflow, error)

	// ApproveAction approves a PENDING_APPROVAL action.
	ApproveAction(ctx context.Context, id, approvedBy string) bool

	// RejectAction rejects a PENDING_APPROVAL action. REJECTED is terminal.
	RejectAction(ctx context.Context, id, rejectedBy, reason string) bool

	// ApproveActionOutOfOrder lets a PENDING_APPROVAL action run ahead of
	// whatever is blocking its session queue.
	ApproveActionOutOfOrder(ctx context.Context, id, approvedBy, reason string) bool

	// MarkExecutionStarted records that an execution sink picked the action up.
	MarkExecutionStarted(ctx context.Context, id string) bool

	// CompleteAction records the result of a dispatched action.
	CompleteAction(ctx context.Context, id string, result CommandResult) bool

	// FailAction records a failed execution of a dispatched action.
	FailAction(ctx context.Context, id, message string) bool

	// EmitOutput attaches streamed output to a dispatched action.
	EmitOutput(ctx context.Context, id string, output TerminalOutput) bool

	// ProcessQueue releases the next actionable workflow of a session, if any.
	ProcessQueue(ctx context.Context, sessionID string) *ActionWorkflow

	GetWorkflow(id string) *ActionWorkflow
	GetAllWorkflows() []*ActionWorkflow
	GetPendingApprovals() []*ActionWorkflow
	GetWorkflowsByPhase(phase Phase) []*ActionWorkflow
	GetWorkflowStats() WorkflowStats

	// CleanupCompleted drops finished workflows older than olderThan and
	// returns how many were removed.
	CleanupCompleted(olderThan time.Duration) int
}

// WorkflowStats is a point-in-time summary computed on demand.
type WorkflowStats struct {
	Total           int
	Active          int
	Completed       int
	PendingApproval int
	Approved        int
	Rejected        int
	Failed          int
	AverageDuration time.Duration
}

// ComputeStats summarises the given workflows.
//
// Completed counts every finished workflow, including rejected and failed
// ones. Approved counts workflows that were approved by anyone.
func ComputeStats(workflows []*ActionWorkflow) WorkflowStats {
	var (
		st       WorkflowStats
		total    time.Duration
		finished int
	)
	st.Total = len(workflows)
	for _, wf := range workflows {
		phase := wf.Phase()
		if wf.IsCompleted() {
			st.Completed++
		} else {
			st.Active++
		}
		if phase == PhasePendingApproval {
			st.PendingApproval++
		}
		if wf.ApprovedBy() != "" {
			st.Approved++
		}
		if _, _, ok := wf.Rejection(); ok {
			st.Rejected++
		}
		if phase == PhaseFailed {
			st.Failed++
		}
		if d, ok := wf.Duration(); ok {
			total += d
			finished++
		}
	}
	if finished > 0 {
		st.AverageDuration = total / time.Duration(finished)
	}
	return st
}
