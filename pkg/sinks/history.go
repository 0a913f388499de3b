package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petrijr/shellguard/internal/persistence"
	"github.com/petrijr/shellguard/pkg/api"
)

// ErrHistoryBufferFull is returned by Listen when a started recorder has no
// room left for another record.
var ErrHistoryBufferFull = errors.New("history buffer full")

// DefaultHistoryBuffer is the number of records a started recorder holds
// while the store catches up.
const DefaultHistoryBuffer = 1024

// WorkflowLookup finds a workflow by action id, live or finished.
type WorkflowLookup func(id string) *api.ActionWorkflow

// HistoryRecorder appends an audit record for every finished action.
//
// Until Start is called, records are written on the publishing goroutine.
// After Start they are queued and written by a background goroutine, so a
// slow store never holds up the engine.
type HistoryRecorder struct {
	store  persistence.AuditStore
	lookup WorkflowLookup
	logger *slog.Logger

	mu      sync.RWMutex
	pending chan historyItem
	done    chan struct{}
}

// historyItem is a record to write or, when flushed is set, a marker that
// is signalled once everything queued before it has been written.
type historyItem struct {
	rec     persistence.AuditRecord
	flushed chan struct{}
}

// HistoryOption customizes a HistoryRecorder.
type HistoryOption func(*HistoryRecorder)

// WithHistoryLogger sets the logger for background write failures.
func WithHistoryLogger(l *slog.Logger) HistoryOption {
	return func(h *HistoryRecorder) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHistoryRecorder writes to store. lookup, if set, is used to fill in
// approval details that the terminal event does not carry.
func NewHistoryRecorder(store persistence.AuditStore, lookup WorkflowLookup, opts ...HistoryOption) *HistoryRecorder {
	h := &HistoryRecorder{store: store, lookup: lookup, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Start moves writes to a background goroutine buffering up to size
// records. A non-positive size uses DefaultHistoryBuffer. Starting twice is
// a no-op.
func (h *HistoryRecorder) Start(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		return
	}
	if size <= 0 {
		size = DefaultHistoryBuffer
	}
	h.pending = make(chan historyItem, size)
	h.done = make(chan struct{})
	go h.drain(h.pending, h.done)
}

func (h *HistoryRecorder) drain(in <-chan historyItem, done chan<- struct{}) {
	defer close(done)
	for item := range in {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		if err := h.store.Append(context.Background(), item.rec); err != nil {
			h.logger.Error("audit_append_failed",
				slog.String("action_id", item.rec.ActionID),
				slog.String("status", string(item.rec.Status)),
				slog.Any("error", err),
			)
		}
	}
}

// Listen is an api.Listener.
func (h *HistoryRecorder) Listen(ctx context.Context, ev api.BusEvent) error {
	if !ev.Phase.IsTerminal() {
		return nil
	}
	// Built here, while the workflow can still be looked up live.
	rec := h.record(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pending == nil {
		if err := h.store.Append(ctx, rec); err != nil {
			return fmt.Errorf("sinks: record %s: %w", rec.ActionID, err)
		}
		return nil
	}
	select {
	case h.pending <- historyItem{rec: rec}:
		return nil
	default:
		return fmt.Errorf("sinks: record %s: %w", rec.ActionID, ErrHistoryBufferFull)
	}
}

// Flush waits until every record accepted so far has been written.
func (h *HistoryRecorder) Flush(ctx context.Context) error {
	h.mu.RLock()
	if h.pending == nil {
		h.mu.RUnlock()
		return nil
	}
	marker := make(chan struct{})
	select {
	case h.pending <- historyItem{flushed: marker}:
		h.mu.RUnlock()
	case <-ctx.Done():
		h.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background writer after the queued records are written,
// or when ctx ends. Later events are written synchronously.
func (h *HistoryRecorder) Close(ctx context.Context) error {
	h.mu.Lock()
	pending, done := h.pending, h.done
	h.pending, h.done = nil, nil
	h.mu.Unlock()
	if pending == nil {
		return nil
	}
	close(pending)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HistoryRecorder) record(ev api.BusEvent) persistence.AuditRecord {
	cmd := ev.Command
	rec := persistence.AuditRecord{
		ActionID:    cmd.ID,
		SessionID:   cmd.SessionID,
		Command:     cmd.Command,
		Parameter:   cmd.Parameter,
		Status:      ev.Phase,
		RejectedBy:  ev.RejectedBy,
		Reason:      ev.RejectionReason,
		SubmittedAt: cmd.Timestamp,
		FinishedAt:  ev.Timestamp,
	}
	if cmd.Risk != nil {
		rec.RiskScore = cmd.Risk.Score
		rec.RiskLevel = cmd.Risk.Level
	}
	if r := ev.Result; r != nil {
		rec.Message = r.Message
		if r.ExitCode != nil {
			code := *r.ExitCode
			rec.ExitCode = &code
		}
	}

	if h.lookup == nil {
		return rec
	}
	wf := h.lookup(cmd.ID)
	if wf == nil {
		return rec
	}
	rec.ApprovedBy = wf.ApprovedBy()
	if r := wf.Risk(); r != nil {
		rec.RiskScore = r.Score
		rec.RiskLevel = r.Level
	}
	if by, reason, ok := wf.Rejection(); ok && rec.RejectedBy == "" {
		rec.RejectedBy, rec.Reason = by, reason
	}
	return rec
}
