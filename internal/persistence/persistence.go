package persistence

// Persistence bundles the live session state and the audit history so
// callers can depend on a single value.
type Persistence struct {
	Sessions *SessionManager
	Audit    AuditStore
}
