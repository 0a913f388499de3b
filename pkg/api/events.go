package api

import "time"

// Phase identifies a step in an action's lifecycle.
type Phase string

const (
	PhaseSubmitted                Phase = "SUBMITTED"
	PhaseRiskAssessed             Phase = "RISK_ASSESSED"
	PhasePendingApproval          Phase = "PENDING_APPROVAL"
	PhaseApproved                 Phase = "APPROVED"
	PhaseRejected                 Phase = "REJECTED"
	PhaseImmediateExecuteApproval Phase = "IMMEDIATE_EXECUTE_APPROVAL"
	PhaseReadyToRun               Phase = "READY_TO_RUN"
	PhaseExecutionStarted         Phase = "EXECUTION_STARTED"
	PhaseCompleted                Phase = "COMPLETED"
	PhaseFailed                   Phase = "FAILED"
	PhaseOutput                   Phase = "OUTPUT"
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhaseSubmitted,
	PhaseRiskAssessed,
	PhasePendingApproval,
	PhaseApproved,
	PhaseRejected,
	PhaseImmediateExecuteApproval,
	PhaseReadyToRun,
	PhaseExecutionStarted,
	PhaseCompleted,
	PhaseFailed,
	PhaseOutput,
}

// IsTerminal reports whether no further transitions follow p.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseRejected
}

// IsDispatched reports whether an action in phase p has been handed to an
// execution sink.
func (p Phase) IsDispatched() bool {
	return p == PhaseReadyToRun || p == PhaseExecutionStarted || p == PhaseOutput
}

// SystemAutoApprover is the actor recorded when policy approves an action.
const SystemAutoApprover = "SYSTEM_AUTO"

// BusEvent is one immutable lifecycle record. Only the fields relevant to
// the phase are set.
type BusEvent struct {
	Phase   Phase
	Command CommandMessage
	Result  *CommandResult

	Risk             *RiskAssessment
	RequiresApproval *bool

	ApprovedBy      string
	RejectedBy      string
	RejectionReason string

	Output    *TerminalOutput
	Timestamp time.Time
}

// ActionID is a shorthand for e.Command.ID.
func (e BusEvent) ActionID() string {
	return e.Command.ID
}

// NewEvent builds an event for phase p stamped with the current time.
func NewEvent(p Phase, cmd CommandMessage) BusEvent {
	return BusEvent{Phase: p, Command: cmd, Timestamp: time.Now()}
}
