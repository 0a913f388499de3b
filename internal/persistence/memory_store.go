package persistence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/shellguard/pkg/api"
)

// DefaultMaxInFlight releases one action at a time per session.
const DefaultMaxInFlight = 1

type storedWorkflow struct {
	wf  *api.ActionWorkflow
	seq uint64
}

// WorkflowStore holds the workflows of one session: a map for lookup and a
// FIFO queue of ids still waiting to be released for execution.
//
// Every queued id has a map entry. Released workflows stay in the map until
// they are reaped, so they remain visible while they run.
type WorkflowStore struct {
	mu        sync.Mutex
	sessionID string
	seq       uint64
	workflows map[string]storedWorkflow
	queue     []string
	inFlight  map[string]struct{}

	maxInFlight int
	bus         api.EventBus
	logger      *slog.Logger
}

// StoreOption customizes a WorkflowStore.
type StoreOption func(*WorkflowStore)

// WithMaxInFlight bounds how many released workflows may run at once.
// Zero removes the bound.
func WithMaxInFlight(n int) StoreOption {
	return func(s *WorkflowStore) {
		if n >= 0 {
			s.maxInFlight = n
		}
	}
}

// WithStoreLogger sets the logger. The default is slog.Default().
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *WorkflowStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewWorkflowStore creates an empty store that publishes READY_TO_RUN events
// on bus. bus may be nil.
func NewWorkflowStore(sessionID string, bus api.EventBus, opts ...StoreOption) *WorkflowStore {
	s := &WorkflowStore{
		sessionID:   sessionID,
		workflows:   make(map[string]storedWorkflow),
		inFlight:    make(map[string]struct{}),
		maxInFlight: DefaultMaxInFlight,
		bus:         bus,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *WorkflowStore) SessionID() string { return s.sessionID }

// Add appends wf to the map and to the tail of the queue.
func (s *WorkflowStore) Add(wf *api.ActionWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID()]; exists {
		return ErrDuplicateWorkflow
	}
	s.seq++
	s.workflows[wf.ID()] = storedWorkflow{wf: wf, seq: s.seq}
	s.queue = append(s.queue, wf.ID())
	return nil
}

// RemoveByID drops a workflow from both the map and the queue.
func (s *WorkflowStore) RemoveByID(id string) (*api.ActionWorkflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *WorkflowStore) removeLocked(id string) (*api.ActionWorkflow, bool) {
	entry, ok := s.workflows[id]
	if !ok {
		return nil, false
	}
	delete(s.workflows, id)
	delete(s.inFlight, id)
	s.dequeueLocked(id)
	return entry.wf, true
}

func (s *WorkflowStore) dequeueLocked(id string) {
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// RemoveCompletedWorkflow reaps a finished workflow. It is a no-op returning
// false if the id is unknown or the workflow has not finished.
func (s *WorkflowStore) RemoveCompletedWorkflow(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.workflows[id]
	if !ok || !entry.wf.IsCompleted() {
		return false
	}
	s.removeLocked(id)
	return true
}

func (s *WorkflowStore) GetByID(id string) (*api.ActionWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return entry.wf, nil
}

// GetAll returns every workflow in submission order.
func (s *WorkflowStore) GetAll() []*api.ActionWorkflow {
	s.mu.Lock()
	entries := make([]storedWorkflow, 0, len(s.workflows))
	for _, e := range s.workflows {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*api.ActionWorkflow, len(entries))
	for i, e := range entries {
		out[i] = e.wf
	}
	return out
}

// Queued returns the ids still waiting in the queue, head first.
func (s *WorkflowStore) Queued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queue))
	copy(out, s.queue)
	return out
}

// Len is the number of workflows held, queued or not.
func (s *WorkflowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workflows)
}

// CleanupCompleted removes finished workflows whose completion is older than
// olderThan and returns them.
func (s *WorkflowStore) CleanupCompleted(olderThan time.Duration) []*api.ActionWorkflow {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*api.ActionWorkflow
	for id, e := range s.workflows {
		at, done := e.wf.CompletedAt()
		if done && !at.After(cutoff) {
			s.removeLocked(id)
			removed = append(removed, e.wf)
		}
	}
	return removed
}

// NextActionable returns the workflow that would be released next without
// removing it from the queue. The first time a workflow is selected it is
// moved to READY_TO_RUN.
func (s *WorkflowStore) NextActionable(ctx context.Context) *api.ActionWorkflow {
	return s.next(ctx, false)
}

// PopNextActionable selects like NextActionable and also removes the
// workflow from the queue. Concurrent callers never receive the same
// workflow.
func (s *WorkflowStore) PopNextActionable(ctx context.Context) *api.ActionWorkflow {
	return s.next(ctx, true)
}

func (s *WorkflowStore) next(ctx context.Context, pop bool) *api.ActionWorkflow {
	s.mu.Lock()
	wf, promoted := s.selectLocked(ctx)
	if wf != nil && pop {
		s.dequeueLocked(wf.ID())
		s.inFlight[wf.ID()] = struct{}{}
	}
	s.mu.Unlock()

	if promoted != nil && s.bus != nil {
		_ = s.bus.Publish(ctx, *promoted)
	}
	return wf
}

// selectLocked runs the admission scan. It returns the chosen workflow and,
// if the workflow was promoted by this call, the READY_TO_RUN event to
// publish once the lock is released.
func (s *WorkflowStore) selectLocked(ctx context.Context) (*api.ActionWorkflow, *api.BusEvent) {
	s.compactLocked()

	if s.maxInFlight > 0 && len(s.inFlight) >= s.maxInFlight {
		return nil, nil
	}

	if len(s.queue) == 0 {
		return nil, nil
	}

	// After compaction the head is either eligible or undecided.
	head := s.workflows[s.queue[0]].wf
	phase := head.Phase()
	if isEligible(phase) {
		return s.promoteLocked(head)
	}
	s.logger.DebugContext(ctx, "queue_blocked",
		slog.String("session_id", s.sessionID),
		slog.String("blocked_by", head.ID()),
		slog.String("phase", string(phase)),
	)

	for _, id := range s.queue {
		wf := s.workflows[id].wf
		if wf.Phase() == api.PhaseImmediateExecuteApproval {
			s.logger.InfoContext(ctx, "queue_bypassed",
				slog.String("session_id", s.sessionID),
				slog.String("action_id", id),
			)
			return s.promoteLocked(wf)
		}
	}
	return nil, nil
}

// compactLocked drops finished workflows from the queue and moves workflows
// that are already executing out of it. It also forgets in-flight entries
// that have finished or disappeared.
func (s *WorkflowStore) compactLocked() {
	kept := s.queue[:0]
	for _, id := range s.queue {
		e, ok := s.workflows[id]
		if !ok {
			continue
		}
		switch p := e.wf.Phase(); {
		case p.IsTerminal():
			continue
		case p == api.PhaseExecutionStarted || p == api.PhaseOutput:
			s.inFlight[id] = struct{}{}
			continue
		}
		kept = append(kept, id)
	}
	s.queue = kept

	for id := range s.inFlight {
		e, ok := s.workflows[id]
		if !ok || e.wf.IsCompleted() {
			delete(s.inFlight, id)
		}
	}
}

func (s *WorkflowStore) promoteLocked(wf *api.ActionWorkflow) (*api.ActionWorkflow, *api.BusEvent) {
	ev := api.NewEvent(api.PhaseReadyToRun, wf.Command())
	if wf.AddEventIf(ev, api.PhaseApproved, api.PhaseImmediateExecuteApproval) {
		return wf, &ev
	}
	// Already READY_TO_RUN.
	return wf, nil
}

// isEligible reports whether a queued workflow may be released. Anything
// undecided (including the transient phases of a submission in progress)
// blocks the queue.
func isEligible(p api.Phase) bool {
	switch p {
	case api.PhaseApproved, api.PhaseImmediateExecuteApproval, api.PhaseReadyToRun:
		return true
	default:
		return false
	}
}
