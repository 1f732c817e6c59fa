package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltasync/internal/core/apperror"
)

var baseline = time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)

// buildDoctorsRepo populates the fake with 5000 source records of which,
// relative to the baseline: 45 are new, 23 are modified, 7 are touched
// without content change, and one destination row is orphaned.
func buildDoctorsRepo(t *testing.T) *FakeRepository {
	t.Helper()
	repo := NewFakeRepository()
	repo.AddEntity("doctors")

	changed := baseline.Add(time.Hour)
	unchanged := baseline.Add(-time.Hour)

	fields := func(i int, specialty string) map[string]any {
		return map[string]any{"name": fmt.Sprintf("doctor-%04d", i), "specialty": specialty}
	}

	for i := 0; i < 5000; i++ {
		id := fmt.Sprintf("doc-%04d", i)
		switch {
		case i < 45: // new: changed in source, absent in destination
			repo.AddSourceRow("doctors", SourceRow{RecordID: id, LastModified: changed, Fields: fields(i, "cardiology")})
		case i < 68: // modified: changed in source, stale hash in destination
			repo.AddSourceRow("doctors", SourceRow{RecordID: id, LastModified: changed, Fields: fields(i, "cardiology")})
			repo.SetDestinationRow("doctors", DestinationRow{
				LegacyReference: id,
				LastSyncedAt:    &unchanged,
				SyncedHash:      Fingerprint(fields(i, "radiology")),
			})
		case i < 75: // touched without change: timestamps moved, content identical
			repo.AddSourceRow("doctors", SourceRow{RecordID: id, LastModified: changed, Fields: fields(i, "cardiology")})
			repo.SetDestinationRow("doctors", DestinationRow{
				LegacyReference: id,
				LastSyncedAt:    &unchanged,
				SyncedHash:      Fingerprint(fields(i, "cardiology")),
			})
		default: // untouched since baseline
			repo.AddSourceRow("doctors", SourceRow{RecordID: id, LastModified: unchanged, Fields: fields(i, "cardiology")})
			repo.SetDestinationRow("doctors", DestinationRow{
				LegacyReference: id,
				LastSyncedAt:    &unchanged,
				SyncedHash:      Fingerprint(fields(i, "cardiology")),
			})
		}
	}

	repo.AddOrphan("doctors", DestinationRow{LegacyReference: "doc-gone", LastSyncedAt: &unchanged, SyncedHash: "stale"})
	return repo
}

func TestDetectChanges_DoctorsScenario(t *testing.T) {
	repo := buildDoctorsRepo(t)
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "doctors", baseline, Options{
		IncludeDeletes:       true,
		EnableContentHashing: true,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodTimestampWithHash, result.DetectionMethod)
	assert.Equal(t, 5000, result.TotalRecordsAnalyzed)
	assert.Equal(t, 45, result.Summary.NewRecords)
	assert.Equal(t, 23, result.Summary.ModifiedRecords)
	assert.Equal(t, 1, result.Summary.DeletedRecords)
	assert.Equal(t, 69, result.Summary.TotalChanges)
	assert.InDelta(t, 1.38, result.Summary.ChangePercentage, 0.001)
	assert.Len(t, result.Changes, 69)
}

func TestDetectChanges_SummaryInvariants(t *testing.T) {
	repo := buildDoctorsRepo(t)
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "doctors", baseline, Options{
		IncludeDeletes:       true,
		EnableContentHashing: true,
	})
	require.NoError(t, err)

	s := result.Summary
	assert.Equal(t, s.NewRecords+s.ModifiedRecords+s.DeletedRecords, s.TotalChanges)
	assert.GreaterOrEqual(t, s.ChangePercentage, 0.0)
	assert.LessOrEqual(t, s.ChangePercentage, 100.0)

	for _, c := range result.Changes {
		if c.ChangeType == ChangeDeleted {
			continue
		}
		require.NotNil(t, c.SourceTimestamp)
		assert.False(t, c.SourceTimestamp.Before(baseline), "source timestamp before baseline for %s", c.RecordID)
	}
}

func TestDetectChanges_MethodFollowsHashingOption(t *testing.T) {
	repo := buildDoctorsRepo(t)
	svc := NewService(repo, nil, DefaultConfig())
	ctx := context.Background()

	withHash, err := svc.DetectChanges(ctx, "doctors", baseline, Options{EnableContentHashing: true})
	require.NoError(t, err)
	assert.Equal(t, MethodTimestampWithHash, withHash.DetectionMethod)

	withoutHash, err := svc.DetectChanges(ctx, "doctors", baseline, Options{EnableContentHashing: false})
	require.NoError(t, err)
	assert.Equal(t, MethodTimestampOnly, withoutHash.DetectionMethod)

	// Without hashing every touched row counts as modified, including the 7
	// touch-without-change writes.
	assert.Equal(t, withHash.Summary.ModifiedRecords+7, withoutHash.Summary.ModifiedRecords)
}

func TestDetectChanges_IdempotentAfterSync(t *testing.T) {
	repo := NewFakeRepository()
	repo.AddEntity("patients")

	modified := baseline.Add(30 * time.Minute)
	fields := map[string]any{"name": "Ada", "ward": int64(3)}
	repo.AddSourceRow("patients", SourceRow{RecordID: "p-1", LastModified: modified, Fields: fields})
	repo.SetDestinationRow("patients", DestinationRow{LegacyReference: "p-1", LastSyncedAt: &modified, SyncedHash: "old"})

	svc := NewService(repo, nil, DefaultConfig())
	ctx := context.Background()
	opts := Options{EnableContentHashing: true}

	first, err := svc.DetectChanges(ctx, "patients", baseline, opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.Summary.TotalChanges)

	// Simulate the apply step confirming the sync: destination hash catches up.
	repo.SetDestinationRow("patients", DestinationRow{
		LegacyReference: "p-1",
		LastSyncedAt:    &modified,
		SyncedHash:      first.Changes[0].ContentHash,
	})

	second, err := svc.DetectChanges(ctx, "patients", baseline, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.TotalChanges)
	assert.Empty(t, second.Changes)
}

func TestDetectChanges_UnknownEntity(t *testing.T) {
	svc := NewService(NewFakeRepository(), nil, DefaultConfig())

	_, err := svc.DetectChanges(context.Background(), "ghosts", baseline, Options{})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeEntityNotFound))
	assert.False(t, apperror.IsRetryable(err))
}

func TestDetectChanges_QueryTimeout(t *testing.T) {
	repo := buildDoctorsRepo(t)
	repo.Delay = 100 * time.Millisecond
	svc := NewService(repo, nil, Config{QueryTimeout: 10 * time.Millisecond, MaxParallel: 2})

	_, err := svc.DetectChanges(context.Background(), "doctors", baseline, Options{})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeAnalysisTimeout))
	assert.True(t, apperror.IsRetryable(err))
}

func TestDetectChanges_EmptyEntityZeroPercentage(t *testing.T) {
	repo := NewFakeRepository()
	repo.AddEntity("empty")
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "empty", baseline, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalRecordsAnalyzed)
	assert.Equal(t, 0.0, result.Summary.ChangePercentage)
}

func TestBatchDetectChanges_SiblingIsolation(t *testing.T) {
	repo := buildDoctorsRepo(t)
	repo.AddEntity("patients")
	svc := NewService(repo, nil, DefaultConfig())

	outcomes := svc.BatchDetectChanges(context.Background(), []string{"doctors", "missing", "patients"}, baseline, Options{
		IncludeDeletes:       true,
		EnableContentHashing: true,
	})
	require.Len(t, outcomes, 3)

	// Output preserves submission order.
	assert.Equal(t, "doctors", outcomes[0].EntityType)
	assert.Equal(t, "missing", outcomes[1].EntityType)
	assert.Equal(t, "patients", outcomes[2].EntityType)

	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 69, outcomes[0].Result.Summary.TotalChanges)

	require.Error(t, outcomes[1].Err)
	assert.True(t, apperror.IsCode(outcomes[1].Err, apperror.CodeEntityNotFound))

	require.NoError(t, outcomes[2].Err)
	assert.Equal(t, 0, outcomes[2].Result.Summary.TotalChanges)
}

func TestDetectChanges_BatchedPagination(t *testing.T) {
	repo := NewFakeRepository()
	repo.AddEntity("visits")
	for i := 0; i < 25; i++ {
		repo.AddSourceRow("visits", SourceRow{
			RecordID:     fmt.Sprintf("v-%03d", i),
			LastModified: baseline.Add(time.Duration(i+1) * time.Minute),
			Fields:       map[string]any{"seq": int64(i)},
		})
	}
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "visits", baseline, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, result.Summary.NewRecords)
	// entity check + count + 3 source pages + 3 dest lookups
	assert.Equal(t, 8, result.Performance.QueriesExecuted)
}

func TestDetectChanges_TiedTimestampsAcrossBatches(t *testing.T) {
	repo := NewFakeRepository()
	repo.AddEntity("visits")

	// Bulk loads leave many rows on one last-modified value; the scan must
	// not lose the ones past the batch edge.
	shared := baseline.Add(time.Hour)
	for i := 0; i < 15; i++ {
		repo.AddSourceRow("visits", SourceRow{
			RecordID:     fmt.Sprintf("v-%03d", i),
			LastModified: shared,
			Fields:       map[string]any{"seq": int64(i)},
		})
	}
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "visits", baseline, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 15, result.Summary.NewRecords)
	assert.Len(t, result.Changes, 15)

	seen := make(map[string]struct{}, len(result.Changes))
	for _, c := range result.Changes {
		seen[c.RecordID] = struct{}{}
	}
	assert.Len(t, seen, 15)
}

func TestDetectChanges_OrphansPaginateAcrossBatches(t *testing.T) {
	repo := NewFakeRepository()
	repo.AddEntity("visits")

	synced := baseline.Add(-time.Hour)
	for i := 0; i < 12; i++ {
		repo.AddOrphan("visits", DestinationRow{
			LegacyReference: fmt.Sprintf("gone-%03d", i),
			LastSyncedAt:    &synced,
			SyncedHash:      "stale",
		})
	}
	svc := NewService(repo, nil, DefaultConfig())

	result, err := svc.DetectChanges(context.Background(), "visits", baseline, Options{
		IncludeDeletes: true,
		BatchSize:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Summary.DeletedRecords)
	assert.Len(t, result.Changes, 12)
}
