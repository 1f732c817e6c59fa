package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint computes a stable content hash over a record's mapped fields.
// The digest distinguishes real changes from touch-without-change writes, so
// the canonical form must be independent of map iteration order, string
// normalization form and timestamp zone:
//
//   - keys sorted lexicographically
//   - strings NFC-normalized
//   - timestamps rendered in UTC RFC 3339
//   - floats rendered with the shortest round-trip representation
//   - nil values rendered as a fixed null marker
func Fingerprint(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(norm.NFC.String(k))
		sb.WriteByte('=')
		writeCanonicalValue(&sb, fields[k])
		sb.WriteByte('\x1e') // record separator between fields
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalValue(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("\x00null")
	case string:
		sb.WriteString(norm.NFC.String(val))
	case []byte:
		sb.WriteString(hex.EncodeToString(val))
	case time.Time:
		sb.WriteString(val.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if val == nil {
			sb.WriteString("\x00null")
		} else {
			sb.WriteString(val.UTC().Format(time.RFC3339Nano))
		}
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float32:
		sb.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	default:
		fmt.Fprintf(sb, "%v", val)
	}
}
