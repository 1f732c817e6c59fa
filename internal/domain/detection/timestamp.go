package detection

import (
	"strings"
	"time"

	"deltasync/internal/core/apperror"
)

// The three accepted baseline timestamp forms.
var baselineLayouts = []string{
	time.RFC3339,          // zoned: 2025-10-25T12:00:00Z
	"2006-01-02 15:04:05", // space-separated, interpreted as UTC
	"2006-01-02",          // date-only, midnight UTC
}

// ParseBaseline parses a caller-supplied baseline timestamp. Any value that
// matches none of the accepted forms fails with INVALID_TIMESTAMP.
func ParseBaseline(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, apperror.NewInvalidTimestamp(value)
	}
	for _, layout := range baselineLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, apperror.NewInvalidTimestamp(value)
}
