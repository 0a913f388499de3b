package api

import (
	"sync"
	"time"
)

// PhaseOf derives the current phase from an event log. It is the phase of
// the last event, or "" for an empty log.
func PhaseOf(events []BusEvent) Phase {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Phase
}

// ActionWorkflow is the lifecycle record of one submitted action.
//
// The event log is append-only and the current phase is always derived from
// it. The first terminal event sets CompletedAt and closes the log.
// ActionWorkflow is safe for concurrent use.
type ActionWorkflow struct {
	mu sync.RWMutex

	id          string
	command     CommandMessage
	events      []BusEvent
	createdAt   time.Time
	completedAt time.Time
}

// NewActionWorkflow creates an empty workflow for cmd. The action id is the
// command id.
func NewActionWorkflow(cmd CommandMessage) *ActionWorkflow {
	return &ActionWorkflow{
		id:        cmd.ID,
		command:   cmd,
		createdAt: time.Now(),
	}
}

func (w *ActionWorkflow) ID() string { return w.id }

// Command returns the latest command snapshot.
func (w *ActionWorkflow) Command() CommandMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.command
}

func (w *ActionWorkflow) SessionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.command.SessionID
}

// Phase returns the current phase.
func (w *ActionWorkflow) Phase() Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return PhaseOf(w.events)
}

// Events returns a copy of the event log.
func (w *ActionWorkflow) Events() []BusEvent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]BusEvent, len(w.events))
	copy(out, w.events)
	return out
}

func (w *ActionWorkflow) CreatedAt() time.Time { return w.createdAt }

// CompletedAt returns the time the first terminal event was applied.
func (w *ActionWorkflow) CompletedAt() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.completedAt, !w.completedAt.IsZero()
}

// IsCompleted reports whether the workflow reached COMPLETED, FAILED or
// REJECTED.
func (w *ActionWorkflow) IsCompleted() bool {
	_, ok := w.CompletedAt()
	return ok
}

// Duration is the time between creation and completion.
func (w *ActionWorkflow) Duration() (time.Duration, bool) {
	at, ok := w.CompletedAt()
	if !ok {
		return 0, false
	}
	return at.Sub(w.createdAt), true
}

// AddEvent appends ev unless the workflow has already finished.
func (w *ActionWorkflow) AddEvent(ev BusEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(ev)
}

// AddEventIf appends ev only when the current phase is one of from.
// The check and the append are atomic.
func (w *ActionWorkflow) AddEventIf(ev BusEvent, from ...Phase) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := PhaseOf(w.events)
	for _, p := range from {
		if cur == p {
			return w.appendLocked(ev)
		}
	}
	return false
}

// AddEventWhen appends ev only when ok(current phase) holds.
func (w *ActionWorkflow) AddEventWhen(ev BusEvent, ok func(Phase) bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !ok(PhaseOf(w.events)) {
		return false
	}
	return w.appendLocked(ev)
}

func (w *ActionWorkflow) appendLocked(ev BusEvent) bool {
	if !w.completedAt.IsZero() {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Command.ID == w.id {
		w.command = ev.Command
	}
	w.events = append(w.events, ev)
	if ev.Phase.IsTerminal() {
		w.completedAt = ev.Timestamp
	}
	return true
}

// Risk returns the assessment attached to the command, if any.
func (w *ActionWorkflow) Risk() *RiskAssessment {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		if w.events[i].Risk != nil {
			r := *w.events[i].Risk
			return &r
		}
	}
	if w.command.Risk != nil {
		r := *w.command.Risk
		return &r
	}
	return nil
}

// RequiresApproval returns the approval flag of the latest event that
// carries one. ok is false when no event carries the flag yet.
func (w *ActionWorkflow) RequiresApproval() (required bool, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		if f := w.events[i].RequiresApproval; f != nil {
			return *f, true
		}
	}
	return false, false
}

// ApprovedBy returns the actor of the latest approval, or "".
func (w *ActionWorkflow) ApprovedBy() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		if w.events[i].ApprovedBy != "" {
			return w.events[i].ApprovedBy
		}
	}
	return ""
}

// Rejection returns the rejecting actor and reason, if rejected.
func (w *ActionWorkflow) Rejection() (by, reason string, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		if w.events[i].RejectedBy != "" {
			return w.events[i].RejectedBy, w.events[i].RejectionReason, true
		}
	}
	return "", "", false
}

// Result returns the execution result, if any.
func (w *ActionWorkflow) Result() *CommandResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		if w.events[i].Result != nil {
			r := *w.events[i].Result
			return &r
		}
	}
	return nil
}
