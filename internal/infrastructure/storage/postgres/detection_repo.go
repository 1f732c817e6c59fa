package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/detection"
)

// DetectionRepo implements detection.Repository over the source and
// destination schemas described by the entity registry.
type DetectionRepo struct {
	pool     *pgxpool.Pool
	registry *Registry
}

// NewDetectionRepo creates the read surface for the detector.
func NewDetectionRepo(pool *pgxpool.Pool, registry *Registry) *DetectionRepo {
	return &DetectionRepo{pool: pool, registry: registry}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *DetectionRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// EntityExists reports whether the entity type is registered.
func (r *DetectionRepo) EntityExists(ctx context.Context, entityType string) (bool, error) {
	_, ok := r.registry.Lookup(entityType)
	return ok, nil
}

// CountSourceRecords returns the total source row count for the entity.
func (r *DetectionRepo) CountSourceRecords(ctx context.Context, entityType string) (int64, error) {
	cfg, err := r.config(entityType)
	if err != nil {
		return 0, err
	}

	sql, args, err := r.Builder().
		Select("COUNT(*)").
		From(cfg.SourceTable).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, classifyDBError(err, fmt.Sprintf("count %s", cfg.SourceTable))
	}
	return total, nil
}

// FetchChangedSource returns source rows positioned after the keyset cursor
// in (modified, id) order, capped at batchSize. Tied modified values paginate
// through the id tiebreaker. Every source column rides along in the row's
// field map for fingerprinting.
func (r *DetectionRepo) FetchChangedSource(ctx context.Context, entityType string, after detection.SourceCursor, batchSize int) ([]detection.SourceRow, error) {
	cfg, err := r.config(entityType)
	if err != nil {
		return nil, err
	}

	cond := squirrel.Sqlizer(squirrel.Gt{cfg.ModifiedColumn: after.LastModified})
	if after.RecordID != "" {
		cond = squirrel.Or{
			squirrel.Gt{cfg.ModifiedColumn: after.LastModified},
			squirrel.And{
				squirrel.Eq{cfg.ModifiedColumn: after.LastModified},
				squirrel.Gt{cfg.IDColumn + "::text": after.RecordID},
			},
		}
	}

	sql, args, err := r.Builder().
		Select("*").
		From(cfg.SourceTable).
		Where(cond).
		OrderBy(cfg.ModifiedColumn+" ASC", cfg.IDColumn+"::text ASC").
		Limit(uint64(batchSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build changed-source query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyDBError(err, fmt.Sprintf("query %s", cfg.SourceTable))
	}
	defer rows.Close()

	var out []detection.SourceRow
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classifyDBError(err, fmt.Sprintf("scan %s", cfg.SourceTable))
		}

		row := detection.SourceRow{Fields: make(map[string]any, len(fields))}
		for i, fd := range fields {
			name := string(fd.Name)
			row.Fields[name] = values[i]
			switch name {
			case cfg.IDColumn:
				row.RecordID = fmt.Sprint(values[i])
			case cfg.ModifiedColumn:
				if ts, ok := values[i].(time.Time); ok {
					row.LastModified = ts
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err, fmt.Sprintf("iterate %s", cfg.SourceTable))
	}
	return out, nil
}

// FetchDestinationIndex returns the destination rows for the given legacy
// references, keyed by reference.
func (r *DetectionRepo) FetchDestinationIndex(ctx context.Context, entityType string, recordIDs []string) (map[string]detection.DestinationRow, error) {
	index := make(map[string]detection.DestinationRow, len(recordIDs))
	if len(recordIDs) == 0 {
		return index, nil
	}

	cfg, err := r.config(entityType)
	if err != nil {
		return nil, err
	}

	sql, args, err := r.Builder().
		Select(
			cfg.RefColumn+" AS legacy_reference",
			cfg.SyncedAtColumn+" AS last_synced_at",
			cfg.HashColumn+" AS synced_hash",
		).
		From(cfg.DestTable).
		Where(squirrel.Eq{cfg.RefColumn: recordIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build destination-index query: %w", err)
	}

	var rows []destinationRow
	if err := pgxscan.Select(ctx, r.pool, &rows, sql, args...); err != nil {
		return nil, classifyDBError(err, fmt.Sprintf("query %s", cfg.DestTable))
	}

	for _, row := range rows {
		index[row.LegacyReference] = row.toDomain()
	}
	return index, nil
}

// FetchOrphanedDestination returns destination rows whose legacy reference no
// longer resolves in the source, in reference order after afterRef.
func (r *DetectionRepo) FetchOrphanedDestination(ctx context.Context, entityType, afterRef string, limit int) ([]detection.DestinationRow, error) {
	cfg, err := r.config(entityType)
	if err != nil {
		return nil, err
	}

	builder := r.Builder().
		Select(
			"d."+cfg.RefColumn+" AS legacy_reference",
			"d."+cfg.SyncedAtColumn+" AS last_synced_at",
			"d."+cfg.HashColumn+" AS synced_hash",
		).
		From(cfg.DestTable+" d").
		LeftJoin(fmt.Sprintf("%s s ON s.%s::text = d.%s", cfg.SourceTable, cfg.IDColumn, cfg.RefColumn)).
		Where(fmt.Sprintf("s.%s IS NULL", cfg.IDColumn))
	if afterRef != "" {
		builder = builder.Where(squirrel.Gt{"d." + cfg.RefColumn: afterRef})
	}

	sql, args, err := builder.
		OrderBy("d." + cfg.RefColumn + " ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build orphan query: %w", err)
	}

	var rows []destinationRow
	if err := pgxscan.Select(ctx, r.pool, &rows, sql, args...); err != nil {
		return nil, classifyDBError(err, fmt.Sprintf("query orphans %s", cfg.DestTable))
	}

	out := make([]detection.DestinationRow, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *DetectionRepo) config(entityType string) (EntityConfig, error) {
	cfg, ok := r.registry.Lookup(entityType)
	if !ok {
		return EntityConfig{}, apperror.NewEntityNotFound(entityType)
	}
	return cfg, nil
}

type destinationRow struct {
	LegacyReference string     `db:"legacy_reference"`
	LastSyncedAt    *time.Time `db:"last_synced_at"`
	SyncedHash      *string    `db:"synced_hash"`
}

func (d destinationRow) toDomain() detection.DestinationRow {
	row := detection.DestinationRow{
		LegacyReference: d.LegacyReference,
		LastSyncedAt:    d.LastSyncedAt,
	}
	if d.SyncedHash != nil {
		row.SyncedHash = *d.SyncedHash
	}
	return row
}

// classifyDBError maps connection-level failures onto the error taxonomy;
// everything else keeps its operation context for the caller to classify.
func classifyDBError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return apperror.NewDatabaseConnection(err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperror.NewDatabaseConnection(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ detection.Repository = (*DetectionRepo)(nil)
