package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltasync/internal/domain/syncer"
)

const batchTable = "sync_batches"

// BatchRepo implements syncer.BatchControl on the sync_batches control table.
type BatchRepo struct {
	pool *pgxpool.Pool
}

// NewBatchRepo creates the batch control store.
func NewBatchRepo(pool *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{pool: pool}
}

// RecordBatch appends one control row. Rows are write-once; a re-applied
// batch after a resume gets a fresh row rather than overwriting history.
func (r *BatchRepo) RecordBatch(ctx context.Context, record syncer.BatchRecord) error {
	sql, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert(batchTable).
		Columns("session_id", "entity_type", "batch_number", "status",
			"applied", "deleted", "skipped", "started_at", "completed_at", "error_message").
		Values(record.SessionID, record.EntityType, record.BatchNumber, record.Status,
			record.Applied, record.Deleted, record.Skipped, record.StartedAt, record.CompletedAt, record.ErrorMessage).
		ToSql()
	if err != nil {
		return fmt.Errorf("build batch insert: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return classifyDBError(err, "record batch")
	}
	return nil
}

var _ syncer.BatchControl = (*BatchRepo)(nil)
