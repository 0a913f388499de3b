package shellguard

import (
	"context"

	"github.com/petrijr/shellguard/internal/engine"
	"github.com/petrijr/shellguard/pkg/api"
	"github.com/petrijr/shellguard/pkg/risk"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	EventBus             = api.EventBus
	Listener             = api.Listener
	CommandMessage       = api.CommandMessage
	CommandResult        = api.CommandResult
	TerminalOutput       = api.TerminalOutput
	BusEvent             = api.BusEvent
	Phase                = api.Phase
	ActionWorkflow       = api.ActionWorkflow
	WorkflowStats        = api.WorkflowStats
	RiskAssessor         = api.RiskAssessor
	RiskAssessment       = api.RiskAssessment
	RiskLevel            = api.RiskLevel
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
)

// Re-export listener helpers.

var (
	NewLoggingListener = api.NewLoggingListener
	CompositeListener  = api.CompositeListener
	ListenerFunc       = api.ListenerFunc
)

// Re-export phase values for convenience.

const (
	PhaseSubmitted                = api.PhaseSubmitted
	PhaseRiskAssessed             = api.PhaseRiskAssessed
	PhasePendingApproval          = api.PhasePendingApproval
	PhaseApproved                 = api.PhaseApproved
	PhaseRejected                 = api.PhaseRejected
	PhaseImmediateExecuteApproval = api.PhaseImmediateExecuteApproval
	PhaseReadyToRun               = api.PhaseReadyToRun
	PhaseExecutionStarted         = api.PhaseExecutionStarted
	PhaseOutput                   = api.PhaseOutput
	PhaseCompleted                = api.PhaseCompleted
	PhaseFailed                   = api.PhaseFailed
)

// Assessor constructors.

// NewRuleBasedAssessor scores commands with the built-in pattern tiers.
func NewRuleBasedAssessor() RiskAssessor { return risk.NewRuleBasedAssessor() }

// NewFailSafeAssessor requires approval for everything.
func NewFailSafeAssessor() RiskAssessor { return risk.FailSafeAssessor{} }

// NewAutoApproveAssessor approves everything. Development only.
func NewAutoApproveAssessor() RiskAssessor { return risk.NewAutoApproveAssessor(nil) }

// NewCompositeAssessor takes the highest score of its children.
func NewCompositeAssessor(children ...RiskAssessor) RiskAssessor {
	return risk.NewCompositeAssessor(children...)
}

// NewInMemoryEngine returns an Engine with its own bus and session stores.
// A nil assessor keeps the fail-safe default.
func NewInMemoryEngine(assessor RiskAssessor) Engine {
	return engine.NewInMemoryEngine(engine.WithAssessor(assessor))
}

// Convenience helpers that forward to the Engine.

// SubmitText submits a TEXT command for sessionID.
func SubmitText(ctx context.Context, eng Engine, sessionID, text string) (*ActionWorkflow, error) {
	return eng.SubmitAction(ctx, CommandMessage{
		SessionID: sessionID,
		Command:   api.CommandText,
		Parameter: text,
	})
}

// Approve approves a pending action.
func Approve(ctx context.Context, eng Engine, id, approvedBy string) bool {
	return eng.ApproveAction(ctx, id, approvedBy)
}

// Reject rejects a pending action.
func Reject(ctx context.Context, eng Engine, id, rejectedBy, reason string) bool {
	return eng.RejectAction(ctx, id, rejectedBy, reason)
}

// ApproveOutOfOrder lets a pending action bypass its session queue.
func ApproveOutOfOrder(ctx context.Context, eng Engine, id, approvedBy, reason string) bool {
	return eng.ApproveActionOutOfOrder(ctx, id, approvedBy, reason)
}
