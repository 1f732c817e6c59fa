package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltasync/internal/core/apperror"
)

func TestParseBaseline_AcceptedForms(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"zoned", "2025-10-25T12:00:00Z", time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)},
		{"zoned offset", "2025-10-25T14:00:00+02:00", time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)},
		{"space separated", "2025-10-25 12:00:00", time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)},
		{"date only", "2025-10-25", time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBaseline(tt.value)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseBaseline_Rejected(t *testing.T) {
	for _, value := range []string{
		"",
		"not-a-timestamp",
		"25/10/2025",
		"2025-13-40",
		"12:00:00",
	} {
		t.Run(value, func(t *testing.T) {
			_, err := ParseBaseline(value)
			require.Error(t, err)
			assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTimestamp))
		})
	}
}
