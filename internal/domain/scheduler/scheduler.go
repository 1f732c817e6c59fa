// Package scheduler coordinates differential analysis runs: synchronous for
// small requests, queued with bounded worker concurrency for large or
// explicitly asynchronous ones. It also guards against concurrent runs over
// the same session and entity.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"deltasync/internal/core/appctx"
	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/detection"
	"deltasync/pkg/logger"
)

// Detector is the analysis fan-out surface the scheduler drives. Satisfied by
// detection.Service.
type Detector interface {
	BatchDetectChanges(ctx context.Context, entityTypes []string, since time.Time, opts detection.Options) []detection.EntityOutcome
}

// Request describes one analysis submission.
type Request struct {
	SessionID       string
	Entities        []string
	Baseline        time.Time
	Options         detection.Options
	ChangeThreshold float64
	// Async forces queued execution even for small requests.
	Async bool
}

// JobStatus is the lifecycle state of a submitted run.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// EntityStatus is the per-entity outcome within a completed run.
type EntityStatus string

const (
	EntityCompleted EntityStatus = "completed"
	EntityFailed    EntityStatus = "failed"
)

// EntityResult is one entity's slot in the aggregate. A failed entity carries
// its error here; a below-threshold entity has no slot and appears only in
// the overall summary's filteredEntities.
type EntityResult struct {
	EntityType string
	Status     EntityStatus
	Result     *detection.DetectionResult
	Err        error
}

// OverallSummary aggregates across the entities that passed the threshold.
type OverallSummary struct {
	TotalChanges            int                        `json:"totalChanges"`
	AverageChangePercentage float64                    `json:"averageChangePercentage"`
	EstimatedMigrationTime  string                     `json:"estimatedMigrationTime"`
	FilteredEntities        []detection.FilteredEntity `json:"filteredEntities"`
}

// AggregateResult is the full outcome of one run.
type AggregateResult struct {
	AnalysisID     string
	SessionID      string
	Entities       []EntityResult
	OverallSummary OverallSummary
}

// Job is the tracked state of a submitted run.
type Job struct {
	AnalysisID  string
	SessionID   string
	Status      JobStatus
	Baseline    time.Time
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *AggregateResult
}

// QueueStats is a point-in-time snapshot of scheduler load.
type QueueStats struct {
	Depth         int   `json:"depth"`
	ActiveRuns    int   `json:"activeRuns"`
	CompletedJobs int   `json:"completedJobs"`
	AverageWaitMs int64 `json:"averageWaitMs"`
}

// Config holds scheduler tuning.
type Config struct {
	// MaxConcurrent bounds the number of queued runs executing at once.
	MaxConcurrent int
	// AsyncThreshold is the entity count above which a submission is queued
	// even without an explicit async request.
	AsyncThreshold int
	// QueueCapacity bounds the backlog of queued runs.
	QueueCapacity int
	// CompletedRetention bounds how many finished jobs stay queryable; the
	// oldest are evicted first.
	CompletedRetention int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      2,
		AsyncThreshold:     3,
		QueueCapacity:      64,
		CompletedRetention: 500,
	}
}

type queuedRun struct {
	job *Job
	req Request
}

// Scheduler serializes conflicting runs and bounds concurrent execution.
type Scheduler struct {
	detector Detector
	cfg      Config
	queue    chan queuedRun
	// sem bounds concurrent execution across sync and queued runs alike.
	sem chan struct{}
	wg  sync.WaitGroup

	mu        sync.Mutex
	active    map[string]struct{}
	jobs      map[string]*Job
	doneOrder []string
	running   int
	completed int
	waitTotal time.Duration
	waitCount int
}

// New creates a scheduler. Call Start to launch the async workers.
func New(detector Detector, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.AsyncThreshold <= 0 {
		cfg.AsyncThreshold = DefaultConfig().AsyncThreshold
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = DefaultConfig().CompletedRetention
	}
	return &Scheduler{
		detector: detector,
		cfg:      cfg,
		queue:    make(chan queuedRun, cfg.QueueCapacity),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		active:   make(map[string]struct{}),
		jobs:     make(map[string]*Job),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have drained.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case run := <-s.queue:
					s.execute(ctx, run.job, run.req)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited after Start's context is
// cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit runs the request synchronously, or enqueues it when it is explicitly
// asynchronous or exceeds the async threshold. A run targeting a session and
// entity pair that is already active is rejected with SYNC_IN_PROGRESS.
func (s *Scheduler) Submit(ctx context.Context, req Request) (Job, error) {
	if len(req.Entities) == 0 {
		return Job{}, apperror.NewValidation("entities must not be empty")
	}
	if req.ChangeThreshold < 0 {
		return Job{}, apperror.NewValidation("changeThreshold must be >= 0").
			WithDetail("changeThreshold", req.ChangeThreshold)
	}

	job, err := s.admit(req)
	if err != nil {
		return Job{}, err
	}

	if req.Async || len(req.Entities) > s.cfg.AsyncThreshold {
		select {
		case s.queue <- queuedRun{job: job, req: req}:
			logger.Info(ctx, "analysis queued",
				"analysis_id", job.AnalysisID,
				"entities", len(req.Entities),
				"queue_depth", len(s.queue))
			return s.snapshot(job.AnalysisID)
		default:
			s.release(req)
			s.forget(job.AnalysisID)
			return Job{}, apperror.NewQueueFull(s.cfg.QueueCapacity)
		}
	}

	s.execute(ctx, job, req)
	return s.snapshot(job.AnalysisID)
}

// Status returns a snapshot of a submitted run.
func (s *Scheduler) Status(analysisID string) (Job, error) {
	return s.snapshot(analysisID)
}

// Stats reports current queue load and historical wait times.
func (s *Scheduler) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := QueueStats{
		Depth:         len(s.queue),
		ActiveRuns:    s.running,
		CompletedJobs: s.completed,
	}
	if s.waitCount > 0 {
		stats.AverageWaitMs = (s.waitTotal / time.Duration(s.waitCount)).Milliseconds()
	}
	return stats
}

// admit reserves every (session, entity) key or rejects the whole request.
func (s *Scheduler) admit(req Request) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entity := range req.Entities {
		if _, busy := s.active[runKey(req.SessionID, entity)]; busy {
			return nil, apperror.NewSyncInProgress(req.SessionID, entity)
		}
	}
	for _, entity := range req.Entities {
		s.active[runKey(req.SessionID, entity)] = struct{}{}
	}

	job := &Job{
		AnalysisID:  uuid.NewString(),
		SessionID:   req.SessionID,
		Status:      StatusQueued,
		Baseline:    req.Baseline,
		SubmittedAt: time.Now().UTC(),
	}
	s.jobs[job.AnalysisID] = job
	return job, nil
}

func (s *Scheduler) release(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range req.Entities {
		delete(s.active, runKey(req.SessionID, entity))
	}
}

func (s *Scheduler) forget(analysisID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, analysisID)
}

func (s *Scheduler) snapshot(analysisID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[analysisID]
	if !ok {
		return Job{}, apperror.NewAnalysisNotFound(analysisID)
	}
	return *job, nil
}

func (s *Scheduler) execute(ctx context.Context, job *Job, req Request) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		now := time.Now().UTC()
		s.mu.Lock()
		job.Status = StatusFailed
		job.CompletedAt = &now
		s.mu.Unlock()
		s.release(req)
		return
	}
	defer func() { <-s.sem }()

	// Queued runs outlive the submitting request; the session rides on the
	// worker context so journal entries stay attributable.
	if appctx.GetSessionID(ctx) != req.SessionID {
		ctx = appctx.WithSession(ctx, &appctx.SessionContext{SessionID: req.SessionID})
	}

	started := time.Now().UTC()
	s.mu.Lock()
	job.Status = StatusProcessing
	job.StartedAt = &started
	s.running++
	s.waitTotal += started.Sub(job.SubmittedAt)
	s.waitCount++
	s.mu.Unlock()

	outcomes := s.detector.BatchDetectChanges(ctx, req.Entities, req.Baseline, req.Options)
	result := s.aggregate(job, req, outcomes)

	completed := time.Now().UTC()
	s.mu.Lock()
	job.Result = result
	job.CompletedAt = &completed
	job.Status = StatusCompleted
	if allFailed(result.Entities) {
		job.Status = StatusFailed
	}
	s.running--
	s.completed++
	s.doneOrder = append(s.doneOrder, job.AnalysisID)
	for len(s.doneOrder) > s.cfg.CompletedRetention {
		delete(s.jobs, s.doneOrder[0])
		s.doneOrder = s.doneOrder[1:]
	}
	s.mu.Unlock()

	s.release(req)

	logger.Info(ctx, "analysis run finished",
		"analysis_id", job.AnalysisID,
		"status", string(job.Status),
		"total_changes", result.OverallSummary.TotalChanges)
}

// aggregate assembles per-entity slots in submission order, applies the
// change threshold and computes the overall summary from the entities that
// passed it. Below-threshold entities get no slot; the summary's
// filteredEntities describes them.
func (s *Scheduler) aggregate(job *Job, req Request, outcomes []detection.EntityOutcome) *AggregateResult {
	succeeded := make([]*detection.DetectionResult, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded = append(succeeded, o.Result)
		}
	}

	// Threshold was validated at submission.
	included, filtered, _ := detection.ApplyThreshold(succeeded, req.ChangeThreshold)

	includedSet := make(map[string]*detection.DetectionResult, len(included))
	for _, r := range included {
		includedSet[r.EntityType] = r
	}

	entities := make([]EntityResult, 0, len(outcomes))
	summary := OverallSummary{FilteredEntities: filtered}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			entities = append(entities, EntityResult{EntityType: o.EntityType, Status: EntityFailed, Err: o.Err})
		case includedSet[o.EntityType] != nil:
			r := includedSet[o.EntityType]
			entities = append(entities, EntityResult{EntityType: o.EntityType, Status: EntityCompleted, Result: r})
			summary.TotalChanges += r.Summary.TotalChanges
			summary.AverageChangePercentage += r.Summary.ChangePercentage
		}
	}
	if len(included) > 0 {
		summary.AverageChangePercentage /= float64(len(included))
	}
	summary.EstimatedMigrationTime = EstimateMigrationTime(summary.TotalChanges)

	return &AggregateResult{
		AnalysisID:     job.AnalysisID,
		SessionID:      req.SessionID,
		Entities:       entities,
		OverallSummary: summary,
	}
}

func allFailed(entities []EntityResult) bool {
	if len(entities) == 0 {
		return false
	}
	for _, e := range entities {
		if e.Status != EntityFailed {
			return false
		}
	}
	return true
}

func runKey(sessionID, entityType string) string {
	return sessionID + "\x00" + entityType
}
