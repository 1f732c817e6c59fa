package detection

import (
	"fmt"

	"deltasync/internal/core/apperror"
)

// FilteredEntity records an entity removed from the primary result because
// its change percentage fell below the caller's threshold. Retained for
// audit; excluded from aggregate counts.
type FilteredEntity struct {
	EntityType       string  `json:"entityType"`
	ChangePercentage float64 `json:"changePercentage"`
	TotalChanges     int     `json:"totalChanges"`
	Reason           string  `json:"reason"`
}

// ApplyThreshold partitions detection results by change percentage. Entities
// below the threshold move to the filtered slice with a stated reason. A
// negative threshold is a validation error.
func ApplyThreshold(results []*DetectionResult, threshold float64) ([]*DetectionResult, []FilteredEntity, error) {
	if threshold < 0 {
		return nil, nil, apperror.NewValidation("changeThreshold must be >= 0").
			WithDetail("changeThreshold", threshold)
	}

	included := make([]*DetectionResult, 0, len(results))
	filtered := make([]FilteredEntity, 0)
	for _, r := range results {
		if r.Summary.ChangePercentage < threshold {
			filtered = append(filtered, FilteredEntity{
				EntityType:       r.EntityType,
				ChangePercentage: r.Summary.ChangePercentage,
				TotalChanges:     r.Summary.TotalChanges,
				Reason: fmt.Sprintf("change percentage %.2f%% below threshold %.2f%%",
					r.Summary.ChangePercentage, threshold),
			})
			continue
		}
		included = append(included, r)
	}
	return included, filtered, nil
}
