package persistence

import (
	"context"
	"database/sql"
	"strconv"
)

// PostgresAuditStore is an AuditStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver, typically
// "github.com/jackc/pgx/v5/stdlib" registered under the name "pgx".
type PostgresAuditStore struct {
	*sqlAuditStore
}

var _ AuditStore = (*PostgresAuditStore)(nil)

// NewPostgresAuditStore initializes the schema and returns the store.
func NewPostgresAuditStore(ctx context.Context, db *sql.DB) (*PostgresAuditStore, error) {
	s, err := newSQLAuditStore(ctx, db, sqlDialect{
		name: "postgres",
		schema: `
		CREATE TABLE IF NOT EXISTS audit_records (
			id BIGSERIAL PRIMARY KEY,
			action_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			parameter TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			risk_score INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT '',
			approved_by TEXT NOT NULL DEFAULT '',
			rejected_by TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			exit_code INTEGER,
			submitted_at BIGINT NOT NULL DEFAULT 0,
			finished_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_session ON audit_records(session_id, id);`,
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	})
	if err != nil {
		return nil, err
	}
	return &PostgresAuditStore{s}, nil
}
