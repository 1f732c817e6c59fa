package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltasync/internal/domain/migrationlog"
)

const logTable = "migration_logs"

// LogRepo is the durable migration log backend on the migration_logs table.
// It implements both migrationlog.Backend and migrationlog.Appender.
type LogRepo struct {
	pool *pgxpool.Pool
}

// NewLogRepo creates the durable log backend.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *LogRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Append inserts one write-once log row.
func (r *LogRepo) Append(ctx context.Context, e migrationlog.Entry) error {
	details, err := marshalJSONB(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	performance, err := marshalJSONB(e.Performance)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}
	logContext, err := marshalJSONB(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	sql, args, err := r.Builder().
		Insert(logTable).
		Columns("log_id", "timestamp", "level", "session_id", "entity_type",
			"batch_number", "message", "details", "performance", "context").
		Values(e.LogID, e.Timestamp, string(e.Level), e.SessionID, e.EntityType,
			e.BatchNumber, e.Message, details, performance, logContext).
		ToSql()
	if err != nil {
		return fmt.Errorf("build log insert: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return classifyDBError(err, "append log entry")
	}
	return nil
}

// Query returns matching entries for the session, unordered; the service
// layer merges and sorts.
func (r *LogRepo) Query(ctx context.Context, sessionID string, f migrationlog.Filter) ([]migrationlog.Entry, error) {
	q := r.Builder().
		Select("log_id", "timestamp", "level", "session_id", "entity_type",
			"batch_number", "message", "details", "performance", "context").
		From(logTable).
		Where(squirrel.Eq{"session_id": sessionID})

	if f.Level != "" {
		q = q.Where(squirrel.Eq{"level": string(f.Level)})
	}
	if f.EntityType != "" {
		q = q.Where(squirrel.Eq{"entity_type": f.EntityType})
	}
	if f.StartTime != nil {
		q = q.Where(squirrel.GtOrEq{"timestamp": *f.StartTime})
	}
	if f.EndTime != nil {
		q = q.Where(squirrel.LtOrEq{"timestamp": *f.EndTime})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log query: %w", err)
	}

	var rows []logRow
	if err := pgxscan.Select(ctx, r.pool, &rows, sql, args...); err != nil {
		return nil, classifyDBError(err, "query logs")
	}

	entries := make([]migrationlog.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode log %s: %w", row.LogID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HasSession reports whether any entry exists for the session.
func (r *LogRepo) HasSession(ctx context.Context, sessionID string) (bool, error) {
	sql, args, err := r.Builder().
		Select("1").
		From(logTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build session query: %w", err)
	}

	var one int
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&one); err != nil {
		if pgxscan.NotFound(err) {
			return false, nil
		}
		return false, classifyDBError(err, "check session")
	}
	return true, nil
}

type logRow struct {
	LogID       string    `db:"log_id"`
	Timestamp   time.Time `db:"timestamp"`
	Level       string    `db:"level"`
	SessionID   string    `db:"session_id"`
	EntityType  *string   `db:"entity_type"`
	BatchNumber *int      `db:"batch_number"`
	Message     string    `db:"message"`
	Details     []byte    `db:"details"`
	Performance []byte    `db:"performance"`
	Context     []byte    `db:"context"`
}

func (row logRow) toDomain() (migrationlog.Entry, error) {
	entry := migrationlog.Entry{
		LogID:       row.LogID,
		Timestamp:   row.Timestamp,
		Level:       migrationlog.Level(row.Level),
		SessionID:   row.SessionID,
		BatchNumber: row.BatchNumber,
		Message:     row.Message,
	}
	if row.EntityType != nil {
		entry.EntityType = *row.EntityType
	}

	for _, blob := range []struct {
		raw  []byte
		dest *map[string]any
	}{
		{row.Details, &entry.Details},
		{row.Performance, &entry.Performance},
		{row.Context, &entry.Context},
	} {
		if len(blob.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(blob.raw, blob.dest); err != nil {
			return migrationlog.Entry{}, err
		}
	}
	return entry, nil
}

func marshalJSONB(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

var (
	_ migrationlog.Backend  = (*LogRepo)(nil)
	_ migrationlog.Appender = (*LogRepo)(nil)
)
