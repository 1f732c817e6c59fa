package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/detection"
	"deltasync/internal/domain/syncer"
)

// DestinationWriter implements syncer.Writer against the destination sync
// bookkeeping columns. Business field mapping lives with the migration jobs
// that populate the destination rows; the writer owns only the reference,
// sync timestamp and content hash.
type DestinationWriter struct {
	pool     *pgxpool.Pool
	registry *Registry
}

// NewDestinationWriter creates the apply-side writer.
func NewDestinationWriter(pool *pgxpool.Pool, registry *Registry) *DestinationWriter {
	return &DestinationWriter{pool: pool, registry: registry}
}

// ApplyChange upserts the sync bookkeeping for one change.
func (w *DestinationWriter) ApplyChange(ctx context.Context, entityType string, change detection.ChangeRecord) error {
	cfg, ok := w.registry.Lookup(entityType)
	if !ok {
		return apperror.NewEntityNotFound(entityType)
	}

	sql, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert(cfg.DestTable).
		Columns(cfg.RefColumn, cfg.SyncedAtColumn, cfg.HashColumn).
		Values(change.RecordID, time.Now().UTC(), change.ContentHash).
		Suffix(fmt.Sprintf(`ON CONFLICT (%s) DO UPDATE SET
			%s = EXCLUDED.%s,
			%s = EXCLUDED.%s`,
			cfg.RefColumn,
			cfg.SyncedAtColumn, cfg.SyncedAtColumn,
			cfg.HashColumn, cfg.HashColumn)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build apply upsert: %w", err)
	}

	if _, err := w.pool.Exec(ctx, sql, args...); err != nil {
		return classifyDBError(err, fmt.Sprintf("apply change %s", change.RecordID))
	}
	return nil
}

// RemoveRecord deletes the destination row for a legacy reference.
func (w *DestinationWriter) RemoveRecord(ctx context.Context, entityType, legacyReference string) error {
	cfg, ok := w.registry.Lookup(entityType)
	if !ok {
		return apperror.NewEntityNotFound(entityType)
	}

	sql, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Delete(cfg.DestTable).
		Where(squirrel.Eq{cfg.RefColumn: legacyReference}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := w.pool.Exec(ctx, sql, args...); err != nil {
		return classifyDBError(err, fmt.Sprintf("remove record %s", legacyReference))
	}
	return nil
}

var _ syncer.Writer = (*DestinationWriter)(nil)
