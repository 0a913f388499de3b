package persistence

import (
	"sort"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// DefaultSessionID is used for commands that carry no session.
const DefaultSessionID = "default"

// SessionManager owns one WorkflowStore per session. Stores are created on
// first use and share the same bus and options.
type SessionManager struct {
	mu     sync.RWMutex
	stores map[string]*WorkflowStore
	bus    api.EventBus
	opts   []StoreOption
}

// NewSessionManager creates a manager whose stores publish on bus.
func NewSessionManager(bus api.EventBus, opts ...StoreOption) *SessionManager {
	return &SessionManager{
		stores: make(map[string]*WorkflowStore),
		bus:    bus,
		opts:   opts,
	}
}

// SessionKey normalises an empty session id to DefaultSessionID.
func SessionKey(sessionID string) string {
	if sessionID == "" {
		return DefaultSessionID
	}
	return sessionID
}

// Store returns the store for sessionID, creating it if needed.
func (m *SessionManager) Store(sessionID string) *WorkflowStore {
	key := SessionKey(sessionID)

	m.mu.RLock()
	s, ok := m.stores[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[key]; ok {
		return s
	}
	s = NewWorkflowStore(key, m.bus, m.opts...)
	m.stores[key] = s
	return s
}

// Lookup returns the store for sessionID without creating one.
func (m *SessionManager) Lookup(sessionID string) (*WorkflowStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[SessionKey(sessionID)]
	return s, ok
}

// Sessions lists known session ids in sorted order.
func (m *SessionManager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.stores))
	for id := range m.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stores returns a snapshot of all stores in session order.
func (m *SessionManager) Stores() []*WorkflowStore {
	ids := m.Sessions()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkflowStore, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.stores[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Add puts wf in the store for its session, creating the store if needed.
// The store cannot be dropped between lookup and insert.
func (m *SessionManager) Add(wf *api.ActionWorkflow) (*WorkflowStore, error) {
	key := SessionKey(wf.SessionID())

	m.mu.RLock()
	if s, ok := m.stores[key]; ok {
		err := s.Add(wf)
		m.mu.RUnlock()
		return s, err
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[key]
	if !ok {
		s = NewWorkflowStore(key, m.bus, m.opts...)
		m.stores[key] = s
	}
	return s, s.Add(wf)
}

// DropEmpty forgets sessions whose store holds no workflows and returns how
// many were dropped. Workflows added through Add are never lost to a
// concurrent drop; a store obtained from Store may be.
func (m *SessionManager) DropEmpty() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.stores {
		if s.Len() == 0 {
			delete(m.stores, id)
			n++
		}
	}
	return n
}
