package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/detection"
)

type entityFixture struct {
	totalChanges     int
	changePercentage float64
	err              error
}

type fakeDetector struct {
	fixtures map[string]entityFixture
	// gate, when non-nil, blocks every run until closed.
	gate chan struct{}
}

func (f *fakeDetector) BatchDetectChanges(ctx context.Context, entityTypes []string, since time.Time, opts detection.Options) []detection.EntityOutcome {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
		}
	}

	outcomes := make([]detection.EntityOutcome, len(entityTypes))
	for i, entity := range entityTypes {
		fx, ok := f.fixtures[entity]
		if !ok {
			fx = entityFixture{err: apperror.NewEntityNotFound(entity)}
		}
		if fx.err != nil {
			outcomes[i] = detection.EntityOutcome{EntityType: entity, Err: fx.err}
			continue
		}
		outcomes[i] = detection.EntityOutcome{
			EntityType: entity,
			Result: &detection.DetectionResult{
				AnalysisID:        uuid.NewString(),
				EntityType:        entity,
				BaselineTimestamp: since,
				Summary: detection.Summary{
					TotalChanges:     fx.totalChanges,
					ChangePercentage: fx.changePercentage,
				},
			},
		}
	}
	return outcomes
}

func threeEntityDetector() *fakeDetector {
	return &fakeDetector{fixtures: map[string]entityFixture{
		"doctors":      {totalChanges: 69, changePercentage: 1.38},
		"patients":     {totalChanges: 156, changePercentage: 2.5},
		"appointments": {totalChanges: 89, changePercentage: 0.9},
	}}
}

func TestSubmit_SyncAggregatesAcrossEntities(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	job, err := sched.Submit(context.Background(), Request{
		SessionID: "session-agg-0001",
		Entities:  []string{"doctors", "patients", "appointments"},
		Baseline:  time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	require.Len(t, job.Result.Entities, 3)

	summary := job.Result.OverallSummary
	assert.Equal(t, 314, summary.TotalChanges)
	assert.InDelta(t, (1.38+2.5+0.9)/3, summary.AverageChangePercentage, 1e-9)
	assert.Equal(t, "< 1 min", summary.EstimatedMigrationTime)
	assert.Empty(t, summary.FilteredEntities)

	for _, e := range job.Result.Entities {
		assert.Equal(t, EntityCompleted, e.Status)
		require.NotNil(t, e.Result)
	}
}

func TestSubmit_ThresholdExcludesFromAggregate(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	job, err := sched.Submit(context.Background(), Request{
		SessionID:       "session-thr-0001",
		Entities:        []string{"doctors", "patients", "appointments"},
		Baseline:        time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		ChangeThreshold: 1.0,
	})
	require.NoError(t, err)

	summary := job.Result.OverallSummary
	assert.Equal(t, 225, summary.TotalChanges)
	require.Len(t, summary.FilteredEntities, 1)
	assert.Equal(t, "appointments", summary.FilteredEntities[0].EntityType)
	assert.Equal(t, 89, summary.FilteredEntities[0].TotalChanges)

	// The filtered entity has no result slot.
	require.Len(t, job.Result.Entities, 2)
	for _, e := range job.Result.Entities {
		assert.NotEqual(t, "appointments", e.EntityType)
		assert.Equal(t, EntityCompleted, e.Status)
	}
}

func TestSubmit_FailedEntityDoesNotAbortSiblings(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	job, err := sched.Submit(context.Background(), Request{
		SessionID: "session-mix-0001",
		Entities:  []string{"doctors", "unknown_entity", "patients"},
		Baseline:  time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 225, job.Result.OverallSummary.TotalChanges)

	failed := job.Result.Entities[1]
	assert.Equal(t, "unknown_entity", failed.EntityType)
	assert.Equal(t, EntityFailed, failed.Status)
	assert.True(t, apperror.IsCode(failed.Err, apperror.CodeEntityNotFound))
}

func TestSubmit_AllEntitiesFailedMarksJobFailed(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	job, err := sched.Submit(context.Background(), Request{
		SessionID: "session-bad-0001",
		Entities:  []string{"nope", "also_nope"},
		Baseline:  time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 0, job.Result.OverallSummary.TotalChanges)
}

func TestSubmit_ValidatesRequest(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	_, err := sched.Submit(context.Background(), Request{SessionID: "session-val-0001"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	_, err = sched.Submit(context.Background(), Request{
		SessionID:       "session-val-0001",
		Entities:        []string{"doctors"},
		ChangeThreshold: -0.5,
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestSubmit_AutoAsyncAboveThreshold(t *testing.T) {
	detector := &fakeDetector{fixtures: map[string]entityFixture{
		"a": {}, "b": {}, "c": {}, "d": {},
	}}
	sched := New(detector, Config{AsyncThreshold: 3})

	// No workers started: the run must sit in the queue.
	job, err := sched.Submit(context.Background(), Request{
		SessionID: "session-auto-0001",
		Entities:  []string{"a", "b", "c", "d"},
		Baseline:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 1, sched.Stats().Depth)
}

func TestSubmit_AsyncLifecycleAndConflictRejection(t *testing.T) {
	detector := threeEntityDetector()
	detector.gate = make(chan struct{})
	sched := New(detector, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	job, err := sched.Submit(ctx, Request{
		SessionID: "session-async-0001",
		Entities:  []string{"doctors"},
		Baseline:  time.Now().UTC(),
		Async:     true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := sched.Status(job.AnalysisID)
		return err == nil && snap.Status == StatusProcessing
	}, time.Second, 5*time.Millisecond)

	// Same session and entity while the first run is active.
	_, err = sched.Submit(ctx, Request{
		SessionID: "session-async-0001",
		Entities:  []string{"doctors"},
		Baseline:  time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeSyncInProgress))
	assert.True(t, apperror.IsRetryable(err))

	// A different entity under the same session is not blocked.
	_, err = sched.Submit(ctx, Request{
		SessionID: "session-async-0001",
		Entities:  []string{"patients"},
		Baseline:  time.Now().UTC(),
		Async:     true,
	})
	require.NoError(t, err)

	close(detector.gate)
	require.Eventually(t, func() bool {
		snap, err := sched.Status(job.AnalysisID)
		return err == nil && snap.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	snap, err := sched.Status(job.AnalysisID)
	require.NoError(t, err)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 69, snap.Result.OverallSummary.TotalChanges)
	require.NotNil(t, snap.CompletedAt)

	// The key is released once the run completes.
	require.Eventually(t, func() bool {
		_, err := sched.Submit(ctx, Request{
			SessionID: "session-async-0001",
			Entities:  []string{"doctors"},
			Baseline:  time.Now().UTC(),
		})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

type countingDetector struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (d *countingDetector) BatchDetectChanges(ctx context.Context, entityTypes []string, since time.Time, opts detection.Options) []detection.EntityOutcome {
	d.mu.Lock()
	d.current++
	if d.current > d.peak {
		d.peak = d.current
	}
	d.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	d.mu.Lock()
	d.current--
	d.mu.Unlock()

	outcomes := make([]detection.EntityOutcome, len(entityTypes))
	for i, entity := range entityTypes {
		outcomes[i] = detection.EntityOutcome{
			EntityType: entity,
			Result:     &detection.DetectionResult{EntityType: entity},
		}
	}
	return outcomes
}

func TestSubmit_SyncRunsShareConcurrencyBound(t *testing.T) {
	detector := &countingDetector{}
	sched := New(detector, Config{MaxConcurrent: 1, AsyncThreshold: 5})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sched.Submit(context.Background(), Request{
				SessionID: fmt.Sprintf("session-par-%04d", i),
				Entities:  []string{"doctors"},
				Baseline:  time.Now().UTC(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	detector.mu.Lock()
	defer detector.mu.Unlock()
	assert.Equal(t, 1, detector.peak)
}

func TestSubmit_FullQueueRejectedAsQueueFull(t *testing.T) {
	sched := New(threeEntityDetector(), Config{QueueCapacity: 1})

	// No workers started: the first async submission fills the queue.
	_, err := sched.Submit(context.Background(), Request{
		SessionID: "session-full-0001",
		Entities:  []string{"doctors"},
		Baseline:  time.Now().UTC(),
		Async:     true,
	})
	require.NoError(t, err)

	_, err = sched.Submit(context.Background(), Request{
		SessionID: "session-full-0002",
		Entities:  []string{"doctors"},
		Baseline:  time.Now().UTC(),
		Async:     true,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeQueueFull))
	assert.True(t, apperror.IsRetryable(err))
}

func TestStatus_CompletedJobsEvictedBeyondRetention(t *testing.T) {
	sched := New(threeEntityDetector(), Config{CompletedRetention: 2})

	ids := make([]string, 3)
	for i := range ids {
		job, err := sched.Submit(context.Background(), Request{
			SessionID: fmt.Sprintf("session-ret-%04d", i),
			Entities:  []string{"doctors"},
			Baseline:  time.Now().UTC(),
		})
		require.NoError(t, err)
		ids[i] = job.AnalysisID
	}

	_, err := sched.Status(ids[0])
	assert.True(t, apperror.IsCode(err, apperror.CodeAnalysisNotFound))
	for _, id := range ids[1:] {
		_, err := sched.Status(id)
		assert.NoError(t, err)
	}
}

func TestStatus_UnknownAnalysisID(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	_, err := sched.Status("does-not-exist")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeAnalysisNotFound))
}

func TestStats_TracksCompletedRuns(t *testing.T) {
	sched := New(threeEntityDetector(), DefaultConfig())

	for i := 0; i < 3; i++ {
		_, err := sched.Submit(context.Background(), Request{
			SessionID: "session-stats-0001",
			Entities:  []string{"doctors"},
			Baseline:  time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	stats := sched.Stats()
	assert.Equal(t, 3, stats.CompletedJobs)
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, 0, stats.ActiveRuns)
}
