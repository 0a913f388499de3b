package persistence

import (
	"context"
	"sync"
)

// NoopAuditStore discards all records.
type NoopAuditStore struct{}

func (NoopAuditStore) Append(context.Context, AuditRecord) error { return nil }
func (NoopAuditStore) List(context.Context, AuditFilter) ([]AuditRecord, error) {
	return nil, nil
}

// InMemoryAuditStore keeps the most recent records in a bounded buffer.
type InMemoryAuditStore struct {
	mu      sync.RWMutex
	limit   int
	records []AuditRecord // oldest first
}

var (
	_ AuditStore = NoopAuditStore{}
	_ AuditStore = (*InMemoryAuditStore)(nil)
)

// NewInMemoryAuditStore keeps at most limit records (DefaultAuditLimit if
// limit <= 0), evicting the oldest.
func NewInMemoryAuditStore(limit int) *InMemoryAuditStore {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &InMemoryAuditStore{limit: limit}
}

func (s *InMemoryAuditStore) Append(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}
	return nil
}

func (s *InMemoryAuditStore) List(_ context.Context, f AuditFilter) ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.limit()
	var out []AuditRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// Clear drops every record.
func (s *InMemoryAuditStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
