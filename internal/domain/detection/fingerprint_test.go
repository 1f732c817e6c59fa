package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stable(t *testing.T) {
	fields := map[string]any{
		"name":  "Renée",
		"age":   int64(42),
		"since": time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, Fingerprint(fields), Fingerprint(fields))
}

func TestFingerprint_IndependentOfMapOrder(t *testing.T) {
	a := map[string]any{"x": "1", "y": "2", "z": "3"}
	b := map[string]any{"z": "3", "x": "1", "y": "2"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_TimezoneInsensitive(t *testing.T) {
	utc := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CEST", 2*3600))

	a := map[string]any{"updated": utc}
	b := map[string]any{"updated": offset}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_UnicodeNormalization(t *testing.T) {
	// "é" as a single code point vs. "e" + combining acute accent.
	composed := map[string]any{"name": "Renée"}
	decomposed := map[string]any{"name": "Renée"}
	assert.Equal(t, Fingerprint(composed), Fingerprint(decomposed))
}

func TestFingerprint_DetectsValueChange(t *testing.T) {
	a := map[string]any{"specialty": "cardiology"}
	b := map[string]any{"specialty": "radiology"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_NilVsEmptyString(t *testing.T) {
	a := map[string]any{"note": nil}
	b := map[string]any{"note": ""}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
