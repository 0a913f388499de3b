package persistence

import (
	"context"
	"database/sql"
)

// SQLiteAuditStore is an AuditStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteAuditStore struct {
	*sqlAuditStore
}

var _ AuditStore = (*SQLiteAuditStore)(nil)

// NewSQLiteAuditStore initializes the schema and returns the store.
func NewSQLiteAuditStore(ctx context.Context, db *sql.DB) (*SQLiteAuditStore, error) {
	s, err := newSQLAuditStore(ctx, db, sqlDialect{
		name: "sqlite",
		schema: `
		CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
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
			submitted_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_session ON audit_records(session_id, id);`,
		placeholder: func(int) string { return "?" },
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{s}, nil
}
