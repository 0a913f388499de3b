package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// NoopListener ignores every event.
func NoopListener(context.Context, BusEvent) error { return nil }

// CompositeListener fans an event out to each non-nil listener in order and
// joins their errors.
func CompositeListener(ls ...Listener) Listener {
	filtered := make([]Listener, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		return NoopListener
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return func(ctx context.Context, ev BusEvent) error {
		var errs []error
		for _, l := range filtered {
			if err := l(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// NewLoggingListener returns a Listener that writes one structured log line
// per lifecycle event. If logger is nil, slog.Default() is used.
func NewLoggingListener(logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev BusEvent) error {
		attrs := []slog.Attr{
			slog.String("action_id", ev.Command.ID),
			slog.String("session_id", ev.Command.SessionID),
			slog.String("phase", string(ev.Phase)),
		}
		level := slog.LevelInfo

		switch ev.Phase {
		case PhaseRiskAssessed:
			if ev.Risk != nil {
				attrs = append(attrs,
					slog.Int("risk_score", ev.Risk.Score),
					slog.String("risk_level", string(ev.Risk.Level)),
				)
			}
			if ev.RequiresApproval != nil {
				attrs = append(attrs, slog.Bool("requires_approval", *ev.RequiresApproval))
			}
		case PhaseApproved, PhaseImmediateExecuteApproval:
			attrs = append(attrs, slog.String("approved_by", ev.ApprovedBy))
		case PhaseRejected:
			attrs = append(attrs,
				slog.String("rejected_by", ev.RejectedBy),
				slog.String("reason", ev.RejectionReason),
			)
		case PhaseFailed:
			level = slog.LevelError
			if ev.Result != nil {
				attrs = append(attrs, slog.String("error", ev.Result.Message))
			}
		case PhaseOutput:
			level = slog.LevelDebug
			if ev.Output != nil {
				attrs = append(attrs, slog.Int("bytes", len(ev.Output.Output)))
			}
		}

		logger.LogAttrs(ctx, level, "workflow_"+eventName(ev.Phase), attrs...)
		return nil
	}
}

func eventName(p Phase) string {
	return strings.ToLower(string(p))
}

// BasicMetrics keeps simple atomic counters per phase and the aggregate
// duration of finished actions. Register m.Listen on a bus.
type BasicMetrics struct {
	submitted  atomic.Int64
	approved   atomic.Int64
	autoApp    atomic.Int64
	rejected   atomic.Int64
	escalated  atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	outputs    atomic.Int64

	finished      atomic.Int64
	totalDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Submitted    int64
	Approved     int64
	AutoApproved int64
	Rejected     int64
	OutOfOrder   int64
	Dispatched   int64
	Completed    int64
	Failed       int64
	OutputChunks int64
	InFlight     int64
	AvgDuration  time.Duration
}

// Listen is a Listener.
func (m *BasicMetrics) Listen(_ context.Context, ev BusEvent) error {
	switch ev.Phase {
	case PhaseSubmitted:
		m.submitted.Add(1)
	case PhaseApproved:
		m.approved.Add(1)
		if ev.ApprovedBy == SystemAutoApprover {
			m.autoApp.Add(1)
		}
	case PhaseRejected:
		m.rejected.Add(1)
		m.observe(ev)
	case PhaseImmediateExecuteApproval:
		m.escalated.Add(1)
	case PhaseReadyToRun:
		m.dispatched.Add(1)
	case PhaseCompleted:
		m.completed.Add(1)
		m.observe(ev)
	case PhaseFailed:
		m.failed.Add(1)
		m.observe(ev)
	case PhaseOutput:
		m.outputs.Add(1)
	}
	return nil
}

func (m *BasicMetrics) observe(ev BusEvent) {
	if ev.Command.Timestamp.IsZero() || ev.Timestamp.IsZero() {
		return
	}
	m.finished.Add(1)
	m.totalDuration.Add(ev.Timestamp.Sub(ev.Command.Timestamp).Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	submitted := m.submitted.Load()
	completed := m.completed.Load()
	failed := m.failed.Load()
	rejected := m.rejected.Load()
	finished := m.finished.Load()

	var avg time.Duration
	if finished > 0 {
		avg = time.Duration(m.totalDuration.Load() / finished)
	}

	return BasicMetricsSnapshot{
		Submitted:    submitted,
		Approved:     m.approved.Load(),
		AutoApproved: m.autoApp.Load(),
		Rejected:     rejected,
		OutOfOrder:   m.escalated.Load(),
		Dispatched:   m.dispatched.Load(),
		Completed:    completed,
		Failed:       failed,
		OutputChunks: m.outputs.Load(),
		InFlight:     submitted - completed - failed - rejected,
		AvgDuration:  avg,
	}
}
