package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltasync/internal/domain/checkpoint"
	"deltasync/internal/domain/conflict"
	"deltasync/internal/domain/detection"
)

type fakeWriter struct {
	mu      sync.Mutex
	applied []string
	removed []string
	failAt  int // 1-based apply call that fails; 0 never fails
	calls   int
}

func (w *fakeWriter) ApplyChange(ctx context.Context, entityType string, change detection.ChangeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failAt > 0 && w.calls == w.failAt {
		return errors.New("destination rejected write")
	}
	w.applied = append(w.applied, change.RecordID)
	return nil
}

func (w *fakeWriter) RemoveRecord(ctx context.Context, entityType, legacyReference string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = append(w.removed, legacyReference)
	return nil
}

type fakeControl struct {
	mu      sync.Mutex
	records []BatchRecord
}

func (c *fakeControl) RecordBatch(ctx context.Context, record BatchRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func changeSet(entity string, news, deletes int) *detection.DetectionResult {
	ts := time.Date(2025, 10, 25, 13, 0, 0, 0, time.UTC)
	var changes []detection.ChangeRecord
	for i := 0; i < news; i++ {
		changes = append(changes, detection.ChangeRecord{
			RecordID:        fmt.Sprintf("rec-%03d", i),
			ChangeType:      detection.ChangeNew,
			SourceTimestamp: &ts,
			ContentHash:     fmt.Sprintf("hash-%03d", i),
		})
	}
	for i := 0; i < deletes; i++ {
		changes = append(changes, detection.ChangeRecord{
			RecordID:            fmt.Sprintf("gone-%03d", i),
			ChangeType:          detection.ChangeDeleted,
			PreviousContentHash: "stale",
		})
	}
	return &detection.DetectionResult{EntityType: entity, Changes: changes}
}

func newTestSyncer(w *fakeWriter, cp checkpoint.Store, ctrl *fakeControl, batchSize int) *Syncer {
	return New(conflict.NewSourceWins(), w, cp, ctrl, nil, Config{BatchSize: batchSize})
}

func TestApply_WalksAllBatches(t *testing.T) {
	w := &fakeWriter{}
	cp := checkpoint.NewMemoryStore()
	ctrl := &fakeControl{}
	s := newTestSyncer(w, cp, ctrl, 4)

	result, err := s.Apply(context.Background(), "sess-1", changeSet("doctors", 10, 0), false)
	require.NoError(t, err)

	assert.Equal(t, 10, result.Applied)
	assert.Equal(t, 3, result.Batches)
	assert.Len(t, ctrl.records, 3)

	final, err := cp.Get(context.Background(), "sess-1", "doctors")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "batch:3", final.LastProcessedCursor)
	assert.Equal(t, checkpoint.StatusCompleted, final.Status)
}

func TestApply_DeletesGatedOnIncludeDeletes(t *testing.T) {
	ctx := context.Background()

	w := &fakeWriter{}
	s := newTestSyncer(w, checkpoint.NewMemoryStore(), &fakeControl{}, 100)
	result, err := s.Apply(ctx, "sess-2", changeSet("doctors", 2, 3), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 3, result.Skipped)
	assert.Empty(t, w.removed)

	w = &fakeWriter{}
	s = newTestSyncer(w, checkpoint.NewMemoryStore(), &fakeControl{}, 100)
	result, err = s.Apply(ctx, "sess-3", changeSet("doctors", 2, 3), true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Deleted)
	assert.Len(t, w.removed, 3)
}

func TestApply_PartialBatchNeverCommitted(t *testing.T) {
	ctx := context.Background()
	cp := checkpoint.NewMemoryStore()
	ctrl := &fakeControl{}

	// Batch size 4: batch 1 completes, batch 2 fails on its second write.
	w := &fakeWriter{failAt: 6}
	s := newTestSyncer(w, cp, ctrl, 4)

	_, err := s.Apply(ctx, "sess-4", changeSet("doctors", 10, 0), false)
	require.Error(t, err)

	saved, err := cp.Get(ctx, "sess-4", "doctors")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "batch:1", saved.LastProcessedCursor)
	assert.Equal(t, checkpoint.StatusInProgress, saved.Status)

	require.Len(t, ctrl.records, 2)
	assert.Equal(t, BatchCompleted, ctrl.records[0].Status)
	assert.Equal(t, BatchFailed, ctrl.records[1].Status)
}

func TestApply_ResumeReappliesInterruptedBatch(t *testing.T) {
	ctx := context.Background()
	cp := checkpoint.NewMemoryStore()
	changes := changeSet("doctors", 10, 0)

	failing := &fakeWriter{failAt: 6}
	_, err := newTestSyncer(failing, cp, &fakeControl{}, 4).Apply(ctx, "sess-5", changes, false)
	require.Error(t, err)

	// Retry with a healthy writer resumes at batch 2, re-applying records
	// 4-5 (at-least-once), never skipping them.
	retry := &fakeWriter{}
	result, err := newTestSyncer(retry, cp, &fakeControl{}, 4).Apply(ctx, "sess-5", changes, false)
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, 6, result.Applied) // batches 2 and 3
	assert.Contains(t, retry.applied, "rec-004")
	assert.Contains(t, retry.applied, "rec-005")
	assert.NotContains(t, retry.applied, "rec-000")

	final, err := cp.Get(ctx, "sess-5", "doctors")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, final.Status)
}

func TestApply_EmptyChangeSetCompletes(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	s := newTestSyncer(&fakeWriter{}, cp, &fakeControl{}, 4)

	result, err := s.Apply(context.Background(), "sess-6", changeSet("doctors", 0, 0), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Batches)

	saved, err := cp.Get(context.Background(), "sess-6", "doctors")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, checkpoint.StatusCompleted, saved.Status)
}
