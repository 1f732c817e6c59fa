package detection

import "fmt"

// Thresholds for operational recommendations.
const (
	largeChangeSet      = 10000
	highModifiedRatio   = 0.5
	slowAnalysisMs      = 60_000
	deleteHeavyFraction = 0.25
)

// Recommend derives operational hints from a completed analysis. Hints are
// advisory text for the caller; they never affect classification.
func Recommend(result *DetectionResult, opts Options) []string {
	var recs []string

	s := result.Summary
	if !opts.EnableContentHashing && s.TotalChanges > 0 &&
		float64(s.ModifiedRecords)/float64(s.TotalChanges) > highModifiedRatio {
		recs = append(recs, "a high share of changes are timestamp-only modifications; enable content hashing to filter touch-without-change writes")
	}
	if s.TotalChanges > largeChangeSet {
		recs = append(recs, fmt.Sprintf("%d changes detected; consider an async submission and scheduling the apply step off-peak", s.TotalChanges))
	}
	if result.Performance.AnalysisDurationMs > slowAnalysisMs {
		recs = append(recs, "analysis ran over a minute; narrow the scope with a later baseline or fewer entities")
	}
	if s.TotalChanges > 0 && float64(s.DeletedRecords)/float64(s.TotalChanges) > deleteHeavyFraction {
		recs = append(recs, "deletions dominate this change set; verify the source extract is complete before applying")
	}
	if s.TotalChanges == 0 {
		recs = append(recs, "no changes since baseline; the destination is up to date for this entity")
	}
	return recs
}
