package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/shellguard/pkg/api"
)

// sqlDialect captures the differences between the SQL backends.
type sqlDialect struct {
	name   string
	schema string
	// placeholder returns the bind marker for the n-th (1-based) argument.
	placeholder func(n int) string
}

// sqlAuditStore is the database/sql implementation shared by the SQLite
// and PostgreSQL audit stores.
type sqlAuditStore struct {
	db      *sql.DB
	dialect sqlDialect
}

const auditColumns = `action_id, session_id, command, parameter, status, risk_score, risk_level,
	approved_by, rejected_by, reason, message, exit_code, submitted_at, finished_at`

func newSQLAuditStore(ctx context.Context, db *sql.DB, d sqlDialect) (*sqlAuditStore, error) {
	s := &sqlAuditStore{db: db, dialect: d}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("%s audit schema: %w", d.name, err)
	}
	return s, nil
}

func (s *sqlAuditStore) Append(ctx context.Context, r AuditRecord) error {
	marks := make([]string, 14)
	for i := range marks {
		marks[i] = s.dialect.placeholder(i + 1)
	}

	var exit sql.NullInt64
	if r.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*r.ExitCode), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (`+auditColumns+`) VALUES (`+strings.Join(marks, ", ")+`)`,
		r.ActionID, r.SessionID, r.Command, r.Parameter, string(r.Status), r.RiskScore, string(r.RiskLevel),
		r.ApprovedBy, r.RejectedBy, r.Reason, r.Message, exit,
		toNanos(r.SubmittedAt), toNanos(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("%s audit append %q: %w", s.dialect.name, r.ActionID, err)
	}
	return nil
}

func (s *sqlAuditStore) List(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		where = append(where, "session_id = "+s.dialect.placeholder(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = "+s.dialect.placeholder(len(args)))
	}
	args = append(args, f.limit())

	q := `SELECT ` + auditColumns + ` FROM audit_records`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id DESC LIMIT ` + s.dialect.placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s audit list: %w", s.dialect.name, err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r                   AuditRecord
			status, level       string
			exit                sql.NullInt64
			submitted, finished int64
		)
		if err := rows.Scan(&r.ActionID, &r.SessionID, &r.Command, &r.Parameter, &status, &r.RiskScore, &level,
			&r.ApprovedBy, &r.RejectedBy, &r.Reason, &r.Message, &exit, &submitted, &finished); err != nil {
			return nil, err
		}
		r.Status = api.Phase(status)
		r.RiskLevel = api.RiskLevel(level)
		if exit.Valid {
			code := int(exit.Int64)
			r.ExitCode = &code
		}
		r.SubmittedAt = fromNanos(submitted)
		r.FinishedAt = fromNanos(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
