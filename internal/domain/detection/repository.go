package detection

import (
	"context"
	"time"
)

// SourceCursor is the keyset position of a changed-source scan. A cursor with
// an empty RecordID selects rows modified strictly after the timestamp; with a
// RecordID it selects rows after the (timestamp, id) pair, so rows sharing a
// last-modified value paginate without loss.
type SourceCursor struct {
	LastModified time.Time
	RecordID     string
}

// Repository is the read surface the detector needs from the two datastores.
// One production implementation queries Postgres; tests use the deterministic
// FakeRepository.
type Repository interface {
	// EntityExists reports whether the entity type is registered.
	EntityExists(ctx context.Context, entityType string) (bool, error)

	// CountSourceRecords returns the total number of source records for the
	// entity, the denominator of changePercentage.
	CountSourceRecords(ctx context.Context, entityType string) (int64, error)

	// FetchChangedSource returns source rows positioned after the cursor in
	// (last-modified, record id) order, capped at batchSize per call.
	FetchChangedSource(ctx context.Context, entityType string, after SourceCursor, batchSize int) ([]SourceRow, error)

	// FetchDestinationIndex returns the destination rows whose legacy
	// reference is in recordIDs, keyed by legacy reference.
	FetchDestinationIndex(ctx context.Context, entityType string, recordIDs []string) (map[string]DestinationRow, error)

	// FetchOrphanedDestination returns destination rows whose legacy
	// reference no longer resolves in the source, in reference order,
	// restricted to references after afterRef.
	FetchOrphanedDestination(ctx context.Context, entityType, afterRef string, limit int) ([]DestinationRow, error)
}
