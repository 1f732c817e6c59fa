package migrationlog

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory Backend and Appender, used in tests and in
// deployments without a durable store configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Append implements Appender.
func (m *MemoryBackend) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(ctx context.Context, sessionID string, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.SessionID == sessionID && f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// HasSession implements Backend.
func (m *MemoryBackend) HasSession(ctx context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ Backend  = (*MemoryBackend)(nil)
	_ Appender = (*MemoryBackend)(nil)
)
