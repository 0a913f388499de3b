package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/shellguard/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow id is unknown to a store.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrDuplicateWorkflow is returned when adding an id that is already held.
	ErrDuplicateWorkflow = errors.New("workflow already exists")
)

// DefaultAuditLimit bounds the in-memory history and default queries.
const DefaultAuditLimit = 100

// AuditRecord is the summary kept for every finished action.
type AuditRecord struct {
	ActionID  string
	SessionID string
	Command   string
	Parameter string

	// Status is COMPLETED, FAILED or REJECTED.
	Status    api.Phase
	RiskScore int
	RiskLevel api.RiskLevel

	ApprovedBy string
	RejectedBy string
	Reason     string
	Message    string
	ExitCode   *int

	SubmittedAt time.Time
	FinishedAt  time.Time
}

// Duration is the time from submission to the terminal event.
func (r AuditRecord) Duration() time.Duration {
	if r.SubmittedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.SubmittedAt)
}

// AuditFilter selects records. Zero fields mean "no filter"; Limit <= 0
// means DefaultAuditLimit.
type AuditFilter struct {
	SessionID string
	Status    api.Phase
	Limit     int
}

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultAuditLimit
	}
	return f.Limit
}

func (f AuditFilter) matches(r AuditRecord) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// AuditStore keeps the history of finished actions.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
	// List returns matching records, newest first.
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

// AuditStats summarises a set of records.
type AuditStats struct {
	Total           int
	Completed       int
	Failed          int
	Rejected        int
	AverageDuration time.Duration
}

// SummarizeAudit counts records per status and averages their durations.
func SummarizeAudit(recs []AuditRecord) AuditStats {
	st := AuditStats{Total: len(recs)}
	var (
		total time.Duration
		timed int
	)
	for _, r := range recs {
		if d := r.Duration(); d > 0 {
			total += d
			timed++
		}
		switch r.Status {
		case api.PhaseCompleted:
			st.Completed++
		case api.PhaseFailed:
			st.Failed++
		case api.PhaseRejected:
			st.Rejected++
		}
	}
	if timed > 0 {
		st.AverageDuration = total / time.Duration(timed)
	}
	return st
}
