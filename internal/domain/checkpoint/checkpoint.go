// Package checkpoint persists the last confirmed cursor per (session,
// entity), enabling resumable, idempotent runs.
package checkpoint

import (
	"context"
	"sync"
	"time"
)

// Statuses recorded with a checkpoint.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Checkpoint is the durable cursor of one (session, entity) run. Written
// exactly once per completed batch; partial batches are never committed, so a
// retried run re-applies at least once rather than silently skipping.
type Checkpoint struct {
	SessionID           string    `json:"sessionId" db:"session_id"`
	EntityType          string    `json:"entityType" db:"entity_type"`
	LastProcessedCursor string    `json:"lastProcessedCursor" db:"last_processed_cursor"`
	Status              string    `json:"status" db:"status"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}

// Store is the durable checkpoint surface. Single-writer per (session,
// entity); the scheduler's active-key set enforces that.
type Store interface {
	// Get returns the checkpoint for the key, or nil when none was ever
	// committed.
	Get(ctx context.Context, sessionID, entityType string) (*Checkpoint, error)

	// Commit durably records the cursor for the key, marking the run status.
	Commit(ctx context.Context, sessionID, entityType, cursor, status string) error
}

// MemoryStore is the in-memory Store used in tests and single-process runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Checkpoint)}
}

func key(sessionID, entityType string) string {
	return sessionID + "\x00" + entityType
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, sessionID, entityType string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cp, ok := m.data[key(sessionID, entityType)]; ok {
		return &cp, nil
	}
	return nil, nil
}

// Commit implements Store.
func (m *MemoryStore) Commit(ctx context.Context, sessionID, entityType, cursor, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key(sessionID, entityType)] = Checkpoint{
		SessionID:           sessionID,
		EntityType:          entityType,
		LastProcessedCursor: cursor,
		Status:              status,
		UpdatedAt:           time.Now().UTC(),
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
