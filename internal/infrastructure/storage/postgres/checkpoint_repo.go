package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltasync/internal/domain/checkpoint"
)

const checkpointTable = "sync_checkpoints"

// CheckpointRepo implements checkpoint.Store on the sync_checkpoints table.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepo creates the durable checkpoint store.
func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *CheckpointRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Get returns the checkpoint for the key, or nil when none was committed.
func (r *CheckpointRepo) Get(ctx context.Context, sessionID, entityType string) (*checkpoint.Checkpoint, error) {
	sql, args, err := r.Builder().
		Select("session_id", "entity_type", "last_processed_cursor", "status", "updated_at").
		From(checkpointTable).
		Where(squirrel.Eq{"session_id": sessionID, "entity_type": entityType}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build checkpoint query: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := pgxscan.Get(ctx, r.pool, &cp, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, classifyDBError(err, "get checkpoint")
	}
	return &cp, nil
}

// Commit upserts the cursor for the key. The single-writer guarantee comes
// from the scheduler's active-key set, not from row locking.
func (r *CheckpointRepo) Commit(ctx context.Context, sessionID, entityType, cursor, status string) error {
	sql, args, err := r.Builder().
		Insert(checkpointTable).
		Columns("session_id", "entity_type", "last_processed_cursor", "status", "updated_at").
		Values(sessionID, entityType, cursor, status, time.Now().UTC()).
		Suffix(`ON CONFLICT (session_id, entity_type) DO UPDATE SET
			last_processed_cursor = EXCLUDED.last_processed_cursor,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build checkpoint upsert: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return classifyDBError(err, "commit checkpoint")
	}
	return nil
}

var _ checkpoint.Store = (*CheckpointRepo)(nil)
