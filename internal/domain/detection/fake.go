package detection

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FakeRepository is the deterministic in-memory Repository used in tests and
// local development. Rows are held per entity type; all methods are safe for
// concurrent use.
type FakeRepository struct {
	mu sync.RWMutex

	source  map[string][]SourceRow
	dest    map[string]map[string]DestinationRow
	orphans map[string][]DestinationRow

	// Err, when set, is returned by every method. Simulates datastore
	// failures.
	Err error

	// Delay, when set, is slept before every call. Simulates slow queries
	// for timeout tests.
	Delay time.Duration
}

// NewFakeRepository creates an empty fake.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		source:  make(map[string][]SourceRow),
		dest:    make(map[string]map[string]DestinationRow),
		orphans: make(map[string][]DestinationRow),
	}
}

// AddEntity registers an entity type with no rows.
func (f *FakeRepository) AddEntity(entityType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.source[entityType]; !ok {
		f.source[entityType] = nil
	}
}

// AddSourceRow appends a source row.
func (f *FakeRepository) AddSourceRow(entityType string, row SourceRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source[entityType] = append(f.source[entityType], row)
}

// SetDestinationRow records the destination-side view of a record.
func (f *FakeRepository) SetDestinationRow(entityType string, row DestinationRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dest[entityType] == nil {
		f.dest[entityType] = make(map[string]DestinationRow)
	}
	f.dest[entityType][row.LegacyReference] = row
}

// AddOrphan records a destination row whose legacy reference no longer
// resolves in the source.
func (f *FakeRepository) AddOrphan(entityType string, row DestinationRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans[entityType] = append(f.orphans[entityType], row)
}

func (f *FakeRepository) barrier(ctx context.Context) error {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil {
		return f.Err
	}
	return ctx.Err()
}

// EntityExists implements Repository.
func (f *FakeRepository) EntityExists(ctx context.Context, entityType string) (bool, error) {
	if err := f.barrier(ctx); err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.source[entityType]
	return ok, nil
}

// CountSourceRecords implements Repository.
func (f *FakeRepository) CountSourceRecords(ctx context.Context, entityType string) (int64, error) {
	if err := f.barrier(ctx); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.source[entityType])), nil
}

// FetchChangedSource implements Repository.
func (f *FakeRepository) FetchChangedSource(ctx context.Context, entityType string, after SourceCursor, batchSize int) ([]SourceRow, error) {
	if err := f.barrier(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var rows []SourceRow
	for _, row := range f.source[entityType] {
		if afterCursor(row, after) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastModified.Equal(rows[j].LastModified) {
			return rows[i].RecordID < rows[j].RecordID
		}
		return rows[i].LastModified.Before(rows[j].LastModified)
	})
	if len(rows) > batchSize {
		rows = rows[:batchSize]
	}
	return rows, nil
}

// FetchDestinationIndex implements Repository.
func (f *FakeRepository) FetchDestinationIndex(ctx context.Context, entityType string, recordIDs []string) (map[string]DestinationRow, error) {
	if err := f.barrier(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	index := make(map[string]DestinationRow, len(recordIDs))
	for _, id := range recordIDs {
		if row, ok := f.dest[entityType][id]; ok {
			index[id] = row
		}
	}
	return index, nil
}

// FetchOrphanedDestination implements Repository.
func (f *FakeRepository) FetchOrphanedDestination(ctx context.Context, entityType, afterRef string, limit int) ([]DestinationRow, error) {
	if err := f.barrier(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var rows []DestinationRow
	for _, row := range f.orphans[entityType] {
		if row.LegacyReference > afterRef {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LegacyReference < rows[j].LegacyReference
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// afterCursor reports whether the row sorts after the cursor in
// (last-modified, record id) order. An empty cursor id means strictly after
// the timestamp.
func afterCursor(row SourceRow, c SourceCursor) bool {
	if row.LastModified.After(c.LastModified) {
		return true
	}
	if c.RecordID == "" {
		return false
	}
	return row.LastModified.Equal(c.LastModified) && row.RecordID > c.RecordID
}

var _ Repository = (*FakeRepository)(nil)
