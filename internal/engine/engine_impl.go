package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/petrijr/shellguard/internal/bus"
	"github.com/petrijr/shellguard/internal/persistence"
	"github.com/petrijr/shellguard/pkg/api"
	"github.com/petrijr/shellguard/pkg/idgen"
	"github.com/petrijr/shellguard/pkg/risk"
)

var (
	// ErrInvalidCommand is returned when a submitted command has no type.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrDuplicateAction is returned when an action id is already live.
	ErrDuplicateAction = errors.New("duplicate action id")
)

// DefaultHistoryLimit bounds how many reaped workflows stay queryable.
const DefaultHistoryLimit = 1000

// IDGenerator assigns ids to commands submitted without one.
type IDGenerator interface {
	NewID() string
}

// Engine is the command workflow engine. It routes every action to the
// store of its session and drives it through the approval state machine,
// publishing each transition on the bus.
type Engine struct {
	bus      api.EventBus
	sessions *persistence.SessionManager
	assessor api.RiskAssessor
	ids      IDGenerator
	logger   *slog.Logger

	mu           sync.RWMutex
	index        map[string]string // action id -> session
	history      []*api.ActionWorkflow
	historyByID  map[string]*api.ActionWorkflow
	historyLimit int
}

var _ api.Engine = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

// WithAssessor sets the risk policy. The default is fail-safe: every action
// needs approval.
func WithAssessor(a api.RiskAssessor) Option {
	return func(e *Engine) {
		if a != nil {
			e.assessor = a
		}
	}
}

// WithIDGenerator sets the generator used for commands without an id.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHistoryLimit bounds the number of reaped workflows kept for queries.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// New creates an Engine over the given bus and sessions.
func New(b api.EventBus, sessions *persistence.SessionManager, opts ...Option) *Engine {
	e := &Engine{
		bus:          b,
		sessions:     sessions,
		assessor:     risk.FailSafeAssessor{},
		logger:       slog.Default(),
		index:        make(map[string]string),
		historyByID:  make(map[string]*api.ActionWorkflow),
		historyLimit: DefaultHistoryLimit,
	}
	for _, o := range opts {
		o(e)
	}
	if e.ids == nil {
		g, _ := idgen.New(idgen.Config{Mode: idgen.V4})
		e.ids = g
	}
	return e
}

// NewInMemoryEngine returns an Engine with its own in-memory bus and
// sessions.
func NewInMemoryEngine(opts ...Option) *Engine {
	b := bus.NewInMemoryBus(nil)
	return New(b, persistence.NewSessionManager(b), opts...)
}

// Bus returns the bus the engine publishes on.
func (e *Engine) Bus() api.EventBus { return e.bus }

// Sessions returns the per-session stores.
func (e *Engine) Sessions() *persistence.SessionManager { return e.sessions }

func (e *Engine) SubmitAction(ctx context.Context, cmd api.CommandMessage) (*api.ActionWorkflow, error) {
	if strings.TrimSpace(cmd.Command) == "" {
		return nil, fmt.Errorf("%w: empty command type", ErrInvalidCommand)
	}
	if cmd.ID == "" {
		cmd.ID = e.ids.NewID()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	cmd.SessionID = persistence.SessionKey(cmd.SessionID)

	e.mu.Lock()
	if _, live := e.index[cmd.ID]; live {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateAction, cmd.ID)
	}
	e.index[cmd.ID] = cmd.SessionID
	e.mu.Unlock()

	wf := api.NewActionWorkflow(cmd)
	if _, err := e.sessions.Add(wf); err != nil {
		e.mu.Lock()
		delete(e.index, cmd.ID)
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q: %v", ErrDuplicateAction, cmd.ID, err)
	}

	e.record(ctx, wf, api.NewEvent(api.PhaseSubmitted, cmd))

	var assessment api.RiskAssessment
	if cmd.Risk != nil {
		// Upstream override; the score still determines the level.
		assessment = api.NewRiskAssessment(cmd.Risk.Score)
	} else {
		assessment = e.assessor.AssessRisk(ctx, cmd).Normalized()
	}
	// An upstream caller may force a review but never skip one.
	requires := e.assessor.RequiresApproval(assessment) || (cmd.Risk != nil && cmd.RequiresApproval)

	assessed := cmd.WithRisk(assessment, requires)
	ev := api.NewEvent(api.PhaseRiskAssessed, assessed)
	ev.Risk = &assessment
	ev.RequiresApproval = &requires
	e.record(ctx, wf, ev)

	e.logger.DebugContext(ctx, "action_submitted",
		slog.String("action_id", cmd.ID),
		slog.String("session_id", cmd.SessionID),
		slog.Int("risk_score", assessment.Score),
		slog.Bool("requires_approval", requires),
	)

	if requires {
		e.record(ctx, wf, api.NewEvent(api.PhasePendingApproval, assessed))
		return wf, nil
	}

	approved := api.NewEvent(api.PhaseApproved, assessed)
	approved.ApprovedBy = api.SystemAutoApprover
	e.record(ctx, wf, approved)
	e.ProcessQueue(ctx, cmd.SessionID)
	return wf, nil
}

func (e *Engine) ApproveAction(ctx context.Context, id, approvedBy string) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	ev := api.NewEvent(api.PhaseApproved, wf.Command())
	ev.ApprovedBy = approvedBy
	if !e.recordIf(ctx, wf, ev, api.PhasePendingApproval) {
		return false
	}
	e.ProcessQueue(ctx, wf.SessionID())
	return true
}

func (e *Engine) RejectAction(ctx context.Context, id, rejectedBy, reason string) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	ev := api.NewEvent(api.PhaseRejected, wf.Command())
	ev.RejectedBy = rejectedBy
	ev.RejectionReason = reason
	if !e.recordIf(ctx, wf, ev, api.PhasePendingApproval) {
		return false
	}
	e.ProcessQueue(ctx, wf.SessionID())
	return true
}

func (e *Engine) ApproveActionOutOfOrder(ctx context.Context, id, approvedBy, reason string) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	ev := api.NewEvent(api.PhaseImmediateExecuteApproval, wf.Command())
	ev.ApprovedBy = fmt.Sprintf("%s (OUT_OF_ORDER: %s)", approvedBy, reason)
	if !e.recordIf(ctx, wf, ev, api.PhasePendingApproval) {
		return false
	}
	e.logger.WarnContext(ctx, "out_of_order_approval",
		slog.String("action_id", id),
		slog.String("approved_by", approvedBy),
		slog.String("reason", reason),
	)
	e.ProcessQueue(ctx, wf.SessionID())
	return true
}

func (e *Engine) MarkExecutionStarted(ctx context.Context, id string) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	return e.recordIf(ctx, wf, api.NewEvent(api.PhaseExecutionStarted, wf.Command()), api.PhaseReadyToRun)
}

func (e *Engine) CompleteAction(ctx context.Context, id string, result api.CommandResult) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	if result.ActionID == "" {
		result.ActionID = id
	}
	if result.SessionID == "" {
		result.SessionID = wf.SessionID()
	}
	ev := api.NewEvent(api.PhaseCompleted, wf.Command())
	ev.Result = &result
	return e.finish(ctx, wf, ev)
}

func (e *Engine) FailAction(ctx context.Context, id, message string) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	ev := api.NewEvent(api.PhaseFailed, wf.Command())
	ev.Result = &api.CommandResult{
		ActionID:  id,
		SessionID: wf.SessionID(),
		Success:   false,
		Message:   message,
	}
	return e.finish(ctx, wf, ev)
}

func (e *Engine) finish(ctx context.Context, wf *api.ActionWorkflow, ev api.BusEvent) bool {
	if !e.recordWhen(ctx, wf, ev, api.Phase.IsDispatched) {
		return false
	}
	e.reap(wf)
	e.ProcessQueue(ctx, wf.SessionID())
	return true
}

func (e *Engine) EmitOutput(ctx context.Context, id string, output api.TerminalOutput) bool {
	wf := e.live(id)
	if wf == nil {
		return false
	}
	if output.SessionID == "" {
		output.SessionID = wf.SessionID()
	}
	if output.Timestamp.IsZero() {
		output.Timestamp = time.Now()
	}
	ev := api.NewEvent(api.PhaseOutput, wf.Command())
	ev.Output = &output
	return e.recordWhen(ctx, wf, ev, api.Phase.IsDispatched)
}

// ProcessQueue releases the next actionable workflow of a session. The
// READY_TO_RUN event is published by the store. A cancelled ctx does not
// stop the release: the workflow it frees belongs to another caller.
func (e *Engine) ProcessQueue(ctx context.Context, sessionID string) *api.ActionWorkflow {
	store, ok := e.sessions.Lookup(sessionID)
	if !ok {
		return nil
	}
	return store.PopNextActionable(context.WithoutCancel(ctx))
}

func (e *Engine) GetWorkflow(id string) *api.ActionWorkflow {
	if wf := e.live(id); wf != nil {
		return wf
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.historyByID[id]
}

// GetAllWorkflows returns the workflows still held by the session stores.
func (e *Engine) GetAllWorkflows() []*api.ActionWorkflow {
	var out []*api.ActionWorkflow
	for _, s := range e.sessions.Stores() {
		out = append(out, s.GetAll()...)
	}
	return out
}

func (e *Engine) GetPendingApprovals() []*api.ActionWorkflow {
	return e.GetWorkflowsByPhase(api.PhasePendingApproval)
}

func (e *Engine) GetWorkflowsByPhase(phase api.Phase) []*api.ActionWorkflow {
	var out []*api.ActionWorkflow
	for _, wf := range e.GetAllWorkflows() {
		if wf.Phase() == phase {
			out = append(out, wf)
		}
	}
	return out
}

// GetWorkflowStats covers live workflows and the reaped history.
func (e *Engine) GetWorkflowStats() api.WorkflowStats {
	all := e.GetAllWorkflows()
	e.mu.RLock()
	all = append(all, e.history...)
	e.mu.RUnlock()
	return api.ComputeStats(all)
}

// History returns reaped workflows, oldest first.
func (e *Engine) History() []*api.ActionWorkflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*api.ActionWorkflow, len(e.history))
	copy(out, e.history)
	return out
}

// CleanupCompleted drops finished workflows, live or reaped, that completed
// more than olderThan ago, then forgets sessions left with no workflows.
func (e *Engine) CleanupCompleted(olderThan time.Duration) int {
	n := 0
	for _, s := range e.sessions.Stores() {
		removed := s.CleanupCompleted(olderThan)
		if len(removed) == 0 {
			continue
		}
		e.mu.Lock()
		for _, wf := range removed {
			delete(e.index, wf.ID())
		}
		e.mu.Unlock()
		n += len(removed)
	}

	cutoff := time.Now().Add(-olderThan)
	e.mu.Lock()
	kept := e.history[:0]
	for _, wf := range e.history {
		if at, _ := wf.CompletedAt(); at.After(cutoff) {
			kept = append(kept, wf)
			continue
		}
		if e.historyByID[wf.ID()] == wf {
			delete(e.historyByID, wf.ID())
		}
		n++
	}
	for i := len(kept); i < len(e.history); i++ {
		e.history[i] = nil
	}
	e.history = kept
	e.mu.Unlock()

	dropped := e.sessions.DropEmpty()
	if n > 0 || dropped > 0 {
		e.logger.Debug("workflows_cleaned_up", slog.Int("count", n), slog.Int("sessions_dropped", dropped))
	}
	return n
}

// live finds a workflow still held by its session store.
func (e *Engine) live(id string) *api.ActionWorkflow {
	e.mu.RLock()
	session, ok := e.index[id]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	store, ok := e.sessions.Lookup(session)
	if !ok {
		return nil
	}
	wf, err := store.GetByID(id)
	if err != nil {
		return nil
	}
	return wf
}

// reap moves a finished workflow from its store into the history.
func (e *Engine) reap(wf *api.ActionWorkflow) {
	if store, ok := e.sessions.Lookup(wf.SessionID()); ok {
		store.RemoveCompletedWorkflow(wf.ID())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.index, wf.ID())
	e.history = append(e.history, wf)
	e.historyByID[wf.ID()] = wf
	for len(e.history) > e.historyLimit {
		old := e.history[0]
		e.history[0] = nil
		e.history = e.history[1:]
		if e.historyByID[old.ID()] == old {
			delete(e.historyByID, old.ID())
		}
	}
}

func (e *Engine) record(ctx context.Context, wf *api.ActionWorkflow, ev api.BusEvent) bool {
	if !wf.AddEvent(ev) {
		e.guardRejected(ctx, wf, ev.Phase)
		return false
	}
	e.publish(ctx, ev)
	return true
}

func (e *Engine) recordIf(ctx context.Context, wf *api.ActionWorkflow, ev api.BusEvent, from ...api.Phase) bool {
	if !wf.AddEventIf(ev, from...) {
		e.guardRejected(ctx, wf, ev.Phase)
		return false
	}
	e.publish(ctx, ev)
	return true
}

func (e *Engine) recordWhen(ctx context.Context, wf *api.ActionWorkflow, ev api.BusEvent, ok func(api.Phase) bool) bool {
	if !wf.AddEventWhen(ev, ok) {
		e.guardRejected(ctx, wf, ev.Phase)
		return false
	}
	e.publish(ctx, ev)
	return true
}

func (e *Engine) guardRejected(ctx context.Context, wf *api.ActionWorkflow, to api.Phase) {
	e.logger.DebugContext(ctx, "transition_rejected",
		slog.String("action_id", wf.ID()),
		slog.String("from", string(wf.Phase())),
		slog.String("to", string(to)),
	)
}

// publish delivers an already recorded transition. Listeners hand work to
// other goroutines (queues, audit writers), so delivery is detached from the
// caller's cancellation. Listener failures are ignored; the bus already
// logged them.
func (e *Engine) publish(ctx context.Context, ev api.BusEvent) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(context.WithoutCancel(ctx), ev)
}
