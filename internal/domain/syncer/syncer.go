// Package syncer is the apply step: it walks a detected change set in
// batches, resolves each change, and writes the authoritative version through
// a caller-supplied Writer. Mapping rules and the write-back schema stay with
// the caller; the syncer owns batching, checkpointing and audit.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deltasync/internal/domain/checkpoint"
	"deltasync/internal/domain/conflict"
	"deltasync/internal/domain/detection"
	"deltasync/pkg/logger"
)

// Writer applies resolved changes to the destination. Owned by the caller;
// the engine never decides business field mappings.
type Writer interface {
	ApplyChange(ctx context.Context, entityType string, change detection.ChangeRecord) error
	RemoveRecord(ctx context.Context, entityType, legacyReference string) error
}

// BatchRecord is one row of the durable control table: one per processed
// batch.
type BatchRecord struct {
	SessionID    string    `json:"sessionId" db:"session_id"`
	EntityType   string    `json:"entityType" db:"entity_type"`
	BatchNumber  int       `json:"batchNumber" db:"batch_number"`
	Status       string    `json:"status" db:"status"`
	Applied      int       `json:"applied" db:"applied"`
	Deleted      int       `json:"deleted" db:"deleted"`
	Skipped      int       `json:"skipped" db:"skipped"`
	StartedAt    time.Time `json:"startedAt" db:"started_at"`
	CompletedAt  time.Time `json:"completedAt" db:"completed_at"`
	ErrorMessage string    `json:"errorMessage,omitempty" db:"error_message"`
}

// Batch statuses in the control table.
const (
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// BatchControl records one row per processed batch.
type BatchControl interface {
	RecordBatch(ctx context.Context, record BatchRecord) error
}

// ApplyResult summarizes one apply run.
type ApplyResult struct {
	SessionID  string `json:"sessionId"`
	EntityType string `json:"entityType"`
	Applied    int    `json:"applied"`
	Deleted    int    `json:"deleted"`
	Skipped    int    `json:"skipped"`
	Batches    int    `json:"batches"`
	Resumed    bool   `json:"resumed"`
}

// Config holds apply tuning.
type Config struct {
	BatchSize int
}

// Syncer drives the apply step.
type Syncer struct {
	resolver    conflict.Resolver
	writer      Writer
	checkpoints checkpoint.Store
	control     BatchControl
	journal     detection.Journal
	cfg         Config
}

// New creates a Syncer. journal may be nil.
func New(resolver conflict.Resolver, writer Writer, checkpoints checkpoint.Store, control BatchControl, journal detection.Journal, cfg Config) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Syncer{
		resolver:    resolver,
		writer:      writer,
		checkpoints: checkpoints,
		control:     control,
		journal:     journal,
		cfg:         cfg,
	}
}

// Apply walks the change set in batches. It resumes from the last committed
// checkpoint and commits a new cursor only after a batch completes, so a
// retried run re-applies the interrupted batch rather than skipping it.
func (s *Syncer) Apply(ctx context.Context, sessionID string, result *detection.DetectionResult, includeDeletes bool) (*ApplyResult, error) {
	entityType := result.EntityType
	applied := &ApplyResult{SessionID: sessionID, EntityType: entityType}

	startBatch := 0
	if cp, err := s.checkpoints.Get(ctx, sessionID, entityType); err != nil {
		return nil, fmt.Errorf("read checkpoint %s/%s: %w", sessionID, entityType, err)
	} else if cp != nil {
		startBatch = parseBatchCursor(cp.LastProcessedCursor)
		applied.Resumed = startBatch > 0
	}

	changes := result.Changes
	totalBatches := (len(changes) + s.cfg.BatchSize - 1) / s.cfg.BatchSize

	for batch := startBatch; batch < totalBatches; batch++ {
		lo := batch * s.cfg.BatchSize
		hi := min(lo+s.cfg.BatchSize, len(changes))

		record := BatchRecord{
			SessionID:   sessionID,
			EntityType:  entityType,
			BatchNumber: batch + 1,
			StartedAt:   time.Now().UTC(),
		}

		if err := s.applyBatch(ctx, entityType, changes[lo:hi], includeDeletes, &record); err != nil {
			record.Status = BatchFailed
			record.ErrorMessage = err.Error()
			record.CompletedAt = time.Now().UTC()
			if ctrlErr := s.control.RecordBatch(ctx, record); ctrlErr != nil {
				logger.Error(ctx, "batch control write failed", "error", ctrlErr)
			}
			s.journalError(ctx, entityType, "apply batch failed", map[string]any{
				"batchNumber": record.BatchNumber,
				"error":       err.Error(),
			})
			// No checkpoint commit for the partial batch.
			return applied, fmt.Errorf("apply batch %d for %s/%s: %w", record.BatchNumber, sessionID, entityType, err)
		}

		record.Status = BatchCompleted
		record.CompletedAt = time.Now().UTC()
		if err := s.control.RecordBatch(ctx, record); err != nil {
			logger.Error(ctx, "batch control write failed", "error", err)
		}

		status := checkpoint.StatusInProgress
		if batch == totalBatches-1 {
			status = checkpoint.StatusCompleted
		}
		if err := s.checkpoints.Commit(ctx, sessionID, entityType, batchCursor(batch+1), status); err != nil {
			return applied, fmt.Errorf("commit checkpoint %s/%s: %w", sessionID, entityType, err)
		}

		applied.Applied += record.Applied
		applied.Deleted += record.Deleted
		applied.Skipped += record.Skipped
		applied.Batches++
	}

	if totalBatches == 0 {
		// Nothing to apply still completes the run.
		if err := s.checkpoints.Commit(ctx, sessionID, entityType, batchCursor(0), checkpoint.StatusCompleted); err != nil {
			return applied, fmt.Errorf("commit checkpoint %s/%s: %w", sessionID, entityType, err)
		}
	}

	s.journalInfo(ctx, entityType, "apply completed", map[string]any{
		"applied": applied.Applied,
		"deleted": applied.Deleted,
		"skipped": applied.Skipped,
		"batches": applied.Batches,
		"resumed": applied.Resumed,
	})
	return applied, nil
}

func (s *Syncer) applyBatch(ctx context.Context, entityType string, changes []detection.ChangeRecord, includeDeletes bool, record *BatchRecord) error {
	for _, change := range changes {
		var dest *conflict.DestinationState
		if change.PreviousContentHash != "" {
			dest = &conflict.DestinationState{
				LegacyReference: change.RecordID,
				ContentHash:     change.PreviousContentHash,
			}
		}

		resolution := s.resolver.Resolve(ctx, change, dest, includeDeletes)
		switch resolution.Decision {
		case conflict.DecisionApplySource:
			if err := s.writer.ApplyChange(ctx, entityType, change); err != nil {
				return fmt.Errorf("apply %s: %w", change.RecordID, err)
			}
			record.Applied++
		case conflict.DecisionDeleteDestination:
			if err := s.writer.RemoveRecord(ctx, entityType, change.RecordID); err != nil {
				return fmt.Errorf("remove %s: %w", change.RecordID, err)
			}
			record.Deleted++
		default:
			record.Skipped++
		}
	}
	return nil
}

func (s *Syncer) journalInfo(ctx context.Context, entityType, message string, details map[string]any) {
	logger.Info(ctx, message, "entity_type", entityType)
	if s.journal != nil {
		s.journal.Info(ctx, entityType, message, details)
	}
}

func (s *Syncer) journalError(ctx context.Context, entityType, message string, details map[string]any) {
	logger.Error(ctx, message, "entity_type", entityType)
	if s.journal != nil {
		s.journal.Error(ctx, entityType, message, details)
	}
}

func batchCursor(completed int) string {
	return "batch:" + strconv.Itoa(completed)
}

func parseBatchCursor(cursor string) int {
	raw, ok := strings.CutPrefix(cursor, "batch:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
