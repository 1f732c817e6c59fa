package migrationlog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderText renders entries one per line with indented detail and
// performance blocks, the shape used by text mode and text downloads.
func RenderText(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(&sb, " [%-5s]", strings.ToUpper(string(e.Level)))
		if e.EntityType != "" {
			sb.WriteString(" ")
			sb.WriteString(e.EntityType)
			if e.BatchNumber != nil {
				fmt.Fprintf(&sb, "#%d", *e.BatchNumber)
			}
		}
		sb.WriteString(" ")
		sb.WriteString(e.Message)
		sb.WriteString("\n")

		writeBlock(&sb, "details", e.Details)
		writeBlock(&sb, "performance", e.Performance)
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, name string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("    ")
	sb.WriteString(name)
	sb.WriteString(":")
	for _, k := range keys {
		fmt.Fprintf(sb, " %s=%v", k, values[k])
	}
	sb.WriteString("\n")
}

// ExportFilename generates the attachment filename for download mode.
func ExportFilename(sessionID, format string, compressed bool) string {
	ext := "json"
	if format == "text" {
		ext = "txt"
	}
	name := fmt.Sprintf("migration-logs-%s-%s.%s", sessionID, time.Now().UTC().Format("20060102-150405"), ext)
	if compressed {
		name += ".gz"
	}
	return name
}
