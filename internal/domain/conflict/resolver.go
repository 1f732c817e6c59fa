// Package conflict decides the authoritative version for records touched on
// both sides. The production policy is fixed: source wins. The Resolver
// interface exists so a field-level merge strategy can be injected later
// without touching the apply pipeline.
package conflict

import (
	"context"

	"deltasync/internal/domain/detection"
	"deltasync/pkg/logger"
)

// Decision is the outcome of one resolution.
type Decision string

const (
	DecisionApplySource       Decision = "apply_source"
	DecisionDeleteDestination Decision = "delete_destination"
	DecisionSkip              Decision = "skip"
)

// DestinationState is the destination's current view of the record.
type DestinationState struct {
	LegacyReference string
	ContentHash     string
}

// Resolution records one decision with before/after hashes for the audit log.
type Resolution struct {
	RecordID   string   `json:"recordId"`
	Decision   Decision `json:"decision"`
	BeforeHash string   `json:"beforeHash,omitempty"`
	AfterHash  string   `json:"afterHash,omitempty"`
	Reason     string   `json:"reason"`
}

// Resolver picks the authoritative version for one change record.
type Resolver interface {
	Resolve(ctx context.Context, change detection.ChangeRecord, dest *DestinationState, includeDeletes bool) Resolution
}

// SourceWins is the fixed production policy: the destination value is
// replaced for new and modified records; deletions propagate only when the
// caller requested includeDeletes. No field-level merge.
type SourceWins struct{}

// NewSourceWins creates the production resolver.
func NewSourceWins() *SourceWins {
	return &SourceWins{}
}

// Resolve implements Resolver.
func (r *SourceWins) Resolve(ctx context.Context, change detection.ChangeRecord, dest *DestinationState, includeDeletes bool) Resolution {
	res := Resolution{RecordID: change.RecordID, AfterHash: change.ContentHash}
	if dest != nil {
		res.BeforeHash = dest.ContentHash
	} else if change.PreviousContentHash != "" {
		res.BeforeHash = change.PreviousContentHash
	}

	switch change.ChangeType {
	case detection.ChangeDeleted:
		if includeDeletes {
			res.Decision = DecisionDeleteDestination
			res.Reason = "record removed from source; deletes requested"
		} else {
			res.Decision = DecisionSkip
			res.Reason = "record removed from source; deletes not requested"
		}
	default:
		res.Decision = DecisionApplySource
		res.Reason = "source wins"
	}

	logger.Info(ctx, "conflict resolved",
		"record_id", res.RecordID,
		"decision", res.Decision,
		"before_hash", res.BeforeHash,
		"after_hash", res.AfterHash,
	)
	return res
}

var _ Resolver = (*SourceWins)(nil)
