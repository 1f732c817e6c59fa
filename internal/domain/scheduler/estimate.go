package scheduler

import "fmt"

// baselineThroughput is the assumed apply rate used for the human-readable
// migration time estimate, in changes per second.
const baselineThroughput = 25

// perEntitySeconds is the assumed analysis duration per entity used for the
// accepted-response completion estimate.
const perEntitySeconds = 30

// EstimateMigrationTime buckets the expected apply duration for the given
// change count into a coarse human-readable label.
func EstimateMigrationTime(totalChanges int) string {
	if totalChanges <= 0 {
		return "< 1 min"
	}
	return bucketSeconds((totalChanges + baselineThroughput - 1) / baselineThroughput)
}

// EstimateCompletionTime buckets the expected analysis duration for a queued
// run by its entity count.
func EstimateCompletionTime(entityCount int) string {
	if entityCount <= 0 {
		return "< 1 min"
	}
	return bucketSeconds(entityCount * perEntitySeconds)
}

func bucketSeconds(seconds int) string {
	if seconds < 60 {
		return "< 1 min"
	}

	minutes := (seconds + 59) / 60
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}

	hours := (minutes + 59) / 60
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
