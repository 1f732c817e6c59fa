package detection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"deltasync/internal/core/apperror"
	"deltasync/pkg/logger"
)

var tracer = otel.Tracer("deltasync/detection")

const (
	// DefaultBatchSize is used when the caller supplies none.
	DefaultBatchSize = 1000
	// MaxBatchSize caps caller-supplied batch sizes.
	MaxBatchSize = 5000
)

// Journal receives operational log entries from the detector. Satisfied by
// migrationlog.Recorder; nil disables journaling.
type Journal interface {
	Info(ctx context.Context, entityType, message string, details map[string]any)
	Warn(ctx context.Context, entityType, message string, details map[string]any)
	Error(ctx context.Context, entityType, message string, details map[string]any)
}

// Config holds detector tuning.
type Config struct {
	// QueryTimeout is the per-query deadline. A deadline hit fails that
	// operation as ANALYSIS_TIMEOUT and nothing else.
	QueryTimeout time.Duration

	// MaxParallel bounds the per-entity fan-out of BatchDetectChanges.
	MaxParallel int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueryTimeout: 30 * time.Second,
		MaxParallel:  4,
	}
}

// Service is the differential detector. Read-only: it never writes to either
// datastore.
type Service struct {
	repo    Repository
	journal Journal
	cfg     Config
}

// NewService creates a detector over the given read surface.
func NewService(repo Repository, journal Journal, cfg Config) *Service {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	return &Service{repo: repo, journal: journal, cfg: cfg}
}

// DetectChanges analyzes one entity type against the baseline timestamp and
// classifies every source record changed since then.
func (s *Service) DetectChanges(ctx context.Context, entityType string, since time.Time, opts Options) (*DetectionResult, error) {
	ctx, span := tracer.Start(ctx, "detection.DetectChanges",
		trace.WithAttributes(attribute.String("entity_type", entityType)))
	defer span.End()

	started := time.Now()
	opts.BatchSize = normalizeBatchSize(opts.BatchSize)

	exists, err := runQuery(ctx, s.cfg.QueryTimeout, func(qctx context.Context) (bool, error) {
		return s.repo.EntityExists(qctx, entityType)
	})
	if err != nil {
		return nil, s.classify(err, entityType)
	}
	if !exists {
		return nil, apperror.NewEntityNotFound(entityType)
	}

	queries := 1
	s.journalInfo(ctx, entityType, "differential analysis started", map[string]any{
		"baseline":       since.Format(time.RFC3339),
		"includeDeletes": opts.IncludeDeletes,
		"contentHashing": opts.EnableContentHashing,
		"batchSize":      opts.BatchSize,
	})

	total, err := runQuery(ctx, s.cfg.QueryTimeout, func(qctx context.Context) (int64, error) {
		return s.repo.CountSourceRecords(qctx, entityType)
	})
	if err != nil {
		return nil, s.fail(ctx, entityType, err)
	}
	queries++

	method := MethodTimestampOnly
	if opts.EnableContentHashing {
		method = MethodTimestampWithHash
	}

	var changes []ChangeRecord
	cursor := SourceCursor{LastModified: since}
	for {
		rows, err := runQuery(ctx, s.cfg.QueryTimeout, func(qctx context.Context) ([]SourceRow, error) {
			return s.repo.FetchChangedSource(qctx, entityType, cursor, opts.BatchSize)
		})
		if err != nil {
			return nil, s.fail(ctx, entityType, err)
		}
		queries++
		if len(rows) == 0 {
			break
		}

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.RecordID
		}
		destIndex, err := runQuery(ctx, s.cfg.QueryTimeout, func(qctx context.Context) (map[string]DestinationRow, error) {
			return s.repo.FetchDestinationIndex(qctx, entityType, ids)
		})
		if err != nil {
			return nil, s.fail(ctx, entityType, err)
		}
		queries++

		changes = append(changes, s.classifyRows(entityType, rows, destIndex, opts)...)

		if len(rows) < opts.BatchSize {
			break
		}
		last := rows[len(rows)-1]
		cursor = SourceCursor{LastModified: last.LastModified, RecordID: last.RecordID}
	}

	if opts.IncludeDeletes {
		var afterRef string
		for {
			orphans, err := runQuery(ctx, s.cfg.QueryTimeout, func(qctx context.Context) ([]DestinationRow, error) {
				return s.repo.FetchOrphanedDestination(qctx, entityType, afterRef, opts.BatchSize)
			})
			if err != nil {
				return nil, s.fail(ctx, entityType, err)
			}
			queries++
			for _, orphan := range orphans {
				changes = append(changes, ChangeRecord{
					RecordID:             orphan.LegacyReference,
					ChangeType:           ChangeDeleted,
					DestinationTimestamp: orphan.LastSyncedAt,
					PreviousContentHash:  orphan.SyncedHash,
					Metadata: ChangeMetadata{
						SourceEntity:      entityType,
						DestinationEntity: entityType,
						Confidence:        confidenceFor(ChangeDeleted, method),
					},
				})
			}
			if len(orphans) < opts.BatchSize {
				break
			}
			afterRef = orphans[len(orphans)-1].LegacyReference
		}
	}

	result := s.assemble(entityType, since, method, int(total), changes, started, queries)
	result.Recommendations = Recommend(result, opts)

	s.journalInfo(ctx, entityType, "differential analysis completed", map[string]any{
		"analysisId":    result.AnalysisID,
		"totalAnalyzed": result.TotalRecordsAnalyzed,
		"totalChanges":  result.Summary.TotalChanges,
		"durationMs":    result.Performance.AnalysisDurationMs,
	})
	return result, nil
}

// BatchDetectChanges fans out per entity with bounded parallelism. One
// entity's failure is carried in its outcome and never aborts siblings.
func (s *Service) BatchDetectChanges(ctx context.Context, entityTypes []string, since time.Time, opts Options) []EntityOutcome {
	outcomes := make([]EntityOutcome, len(entityTypes))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for i, entityType := range entityTypes {
		g.Go(func() error {
			result, err := s.DetectChanges(ctx, entityType, since, opts)
			outcomes[i] = EntityOutcome{EntityType: entityType, Result: result, Err: err}
			// Sibling isolation: errors stay in the outcome.
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// classifyRows partitions changed source rows into new and modified records.
func (s *Service) classifyRows(entityType string, rows []SourceRow, destIndex map[string]DestinationRow, opts Options) []ChangeRecord {
	method := MethodTimestampOnly
	if opts.EnableContentHashing {
		method = MethodTimestampWithHash
	}

	changes := make([]ChangeRecord, 0, len(rows))
	for _, row := range rows {
		var hash string
		if opts.EnableContentHashing {
			hash = Fingerprint(row.Fields)
		}

		dest, present := destIndex[row.RecordID]
		if !present {
			sourceTS := row.LastModified
			changes = append(changes, ChangeRecord{
				RecordID:        row.RecordID,
				ChangeType:      ChangeNew,
				SourceTimestamp: &sourceTS,
				ContentHash:     hash,
				Metadata: ChangeMetadata{
					SourceEntity:      entityType,
					DestinationEntity: entityType,
					Confidence:        confidenceFor(ChangeNew, method),
				},
			})
			continue
		}

		if opts.EnableContentHashing && hash == dest.SyncedHash {
			// Touched but content unchanged: not a modification.
			continue
		}

		sourceTS := row.LastModified
		changes = append(changes, ChangeRecord{
			RecordID:             row.RecordID,
			ChangeType:           ChangeModified,
			SourceTimestamp:      &sourceTS,
			DestinationTimestamp: dest.LastSyncedAt,
			ContentHash:          hash,
			PreviousContentHash:  dest.SyncedHash,
			Metadata: ChangeMetadata{
				SourceEntity:      entityType,
				DestinationEntity: entityType,
				Confidence:        confidenceFor(ChangeModified, method),
			},
		})
	}
	return changes
}

func (s *Service) assemble(entityType string, since time.Time, method DetectionMethod, total int, changes []ChangeRecord, started time.Time, queries int) *DetectionResult {
	summary := Summary{}
	for _, c := range changes {
		switch c.ChangeType {
		case ChangeNew:
			summary.NewRecords++
		case ChangeModified:
			summary.ModifiedRecords++
		case ChangeDeleted:
			summary.DeletedRecords++
		}
	}
	summary.TotalChanges = summary.NewRecords + summary.ModifiedRecords + summary.DeletedRecords
	summary.ChangePercentage = changePercentage(summary.TotalChanges, total)

	duration := time.Since(started)
	perf := Performance{
		AnalysisDurationMs: duration.Milliseconds(),
		QueriesExecuted:    queries,
	}
	if secs := duration.Seconds(); secs > 0 {
		perf.RecordsPerSecond = float64(total) / secs
	}

	return &DetectionResult{
		AnalysisID:           uuid.NewString(),
		EntityType:           entityType,
		AnalysisTimestamp:    time.Now().UTC(),
		BaselineTimestamp:    since,
		DetectionMethod:      method,
		TotalRecordsAnalyzed: total,
		Changes:              changes,
		Summary:              summary,
		Performance:          perf,
	}
}

// runQuery runs one repository call under the per-query deadline.
func runQuery[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(qctx)
}

func (s *Service) fail(ctx context.Context, entityType string, err error) error {
	classified := s.classify(err, entityType)
	s.journalError(ctx, entityType, "differential analysis failed", map[string]any{
		"error": classified.Error(),
	})
	return classified
}

// classify maps raw failures onto the error taxonomy. Repository
// implementations pre-classify connection failures; deadline hits become
// ANALYSIS_TIMEOUT here.
func (s *Service) classify(err error, entityType string) error {
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewAnalysisTimeout(entityType, s.cfg.QueryTimeout)
	}
	return apperror.NewInternal(err)
}

func (s *Service) journalInfo(ctx context.Context, entityType, message string, details map[string]any) {
	logger.Info(ctx, message, "entity_type", entityType)
	if s.journal != nil {
		s.journal.Info(ctx, entityType, message, details)
	}
}

func (s *Service) journalError(ctx context.Context, entityType, message string, details map[string]any) {
	logger.Error(ctx, message, "entity_type", entityType)
	if s.journal != nil {
		s.journal.Error(ctx, entityType, message, details)
	}
}

func normalizeBatchSize(size int) int {
	if size <= 0 {
		return DefaultBatchSize
	}
	if size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}

func changePercentage(changes, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(changes) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func confidenceFor(ct ChangeType, method DetectionMethod) float64 {
	switch ct {
	case ChangeNew:
		return 0.95
	case ChangeDeleted:
		return 0.9
	default:
		if method == MethodTimestampWithHash {
			return 0.98
		}
		// Timestamp-only modifications may be touch-without-change writes.
		return 0.7
	}
}
