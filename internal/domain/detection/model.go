// Package detection implements differential change detection between a
// source and a destination datastore. It is strictly read-only: the only
// side effects are log emission.
package detection

import "time"

// ChangeType classifies a detected change.
type ChangeType string

const (
	ChangeNew      ChangeType = "new"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// DetectionMethod records how modifications were classified.
type DetectionMethod string

const (
	// MethodTimestampOnly flags every touched row as modified.
	MethodTimestampOnly DetectionMethod = "timestamp_only"
	// MethodTimestampWithHash confirms modifications by content fingerprint,
	// filtering out touch-without-change writes.
	MethodTimestampWithHash DetectionMethod = "timestamp_with_hash"
)

// ChangeMetadata carries diagnostic context for a change record.
type ChangeMetadata struct {
	SourceEntity      string `json:"sourceEntity"`
	DestinationEntity string `json:"destinationEntity"`
	// Confidence is diagnostic only and never excludes a record.
	Confidence float64 `json:"confidence"`
}

// ChangeRecord is one detected change. Immutable once emitted.
type ChangeRecord struct {
	RecordID             string         `json:"recordId"`
	ChangeType           ChangeType     `json:"changeType"`
	SourceTimestamp      *time.Time     `json:"sourceTimestamp,omitempty"`
	DestinationTimestamp *time.Time     `json:"destinationTimestamp,omitempty"`
	ContentHash          string         `json:"contentHash,omitempty"`
	PreviousContentHash  string         `json:"previousContentHash,omitempty"`
	Metadata             ChangeMetadata `json:"metadata"`
}

// Summary aggregates the change counts of one analysis.
type Summary struct {
	NewRecords       int     `json:"newRecords"`
	ModifiedRecords  int     `json:"modifiedRecords"`
	DeletedRecords   int     `json:"deletedRecords"`
	TotalChanges     int     `json:"totalChanges"`
	ChangePercentage float64 `json:"changePercentage"`
}

// Performance carries timing diagnostics of one analysis.
type Performance struct {
	AnalysisDurationMs int64   `json:"analysisDurationMs"`
	RecordsPerSecond   float64 `json:"recordsPerSecond"`
	QueriesExecuted    int     `json:"queriesExecuted"`
}

// DetectionResult is the outcome of one per-entity analysis run.
type DetectionResult struct {
	AnalysisID           string          `json:"analysisId"`
	EntityType           string          `json:"entityType"`
	AnalysisTimestamp    time.Time       `json:"analysisTimestamp"`
	BaselineTimestamp    time.Time       `json:"baselineTimestamp"`
	DetectionMethod      DetectionMethod `json:"detectionMethod"`
	TotalRecordsAnalyzed int             `json:"totalRecordsAnalyzed"`
	Changes              []ChangeRecord  `json:"changes"`
	Summary              Summary         `json:"summary"`
	Performance          Performance     `json:"performance"`
	Recommendations      []string        `json:"recommendations"`
}

// Options controls one detection run.
type Options struct {
	IncludeDeletes       bool
	EnableContentHashing bool
	BatchSize            int
}

// EntityOutcome is the per-entity result of a batch detection. One entity's
// failure never aborts its siblings; it is carried here instead.
type EntityOutcome struct {
	EntityType string
	Result     *DetectionResult
	Err        error
}

// SourceRow is a source record whose last-modified marker moved past the
// baseline.
type SourceRow struct {
	RecordID     string
	LastModified time.Time
	Fields       map[string]any
}

// DestinationRow is the destination-side view of a record, keyed by its
// legacy reference.
type DestinationRow struct {
	LegacyReference string
	LastSyncedAt    *time.Time
	SyncedHash      string
}
