// Package migrationlog unifies structured migration logs from durable
// storage and append-only files behind one repository interface, and provides
// the write side used by the detection and apply pipelines.
package migrationlog

import (
	"context"
	"regexp"
	"time"

	"deltasync/internal/core/apperror"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a query string to a Level.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s), true
	}
	return "", false
}

// Entry is one write-once migration log record.
type Entry struct {
	LogID       string         `json:"logId" db:"log_id"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
	Level       Level          `json:"level" db:"level"`
	SessionID   string         `json:"sessionId" db:"session_id"`
	EntityType  string         `json:"entityType,omitempty" db:"entity_type"`
	BatchNumber *int           `json:"batchNumber,omitempty" db:"batch_number"`
	Message     string         `json:"message" db:"message"`
	Details     map[string]any `json:"details,omitempty" db:"details"`
	Performance map[string]any `json:"performance,omitempty" db:"performance"`
	Context     map[string]any `json:"context,omitempty" db:"context"`
}

// Filter narrows a log query.
type Filter struct {
	Level      Level
	EntityType string
	StartTime  *time.Time
	EndTime    *time.Time
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Page bounds a log query.
type Page struct {
	Limit  int
	Offset int
}

// Pagination bounds.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Backend is one source of log entries. Two interchangeable implementations
// exist: the durable Postgres store and the on-disk file reader; tests
// substitute in-memory fakes.
type Backend interface {
	// Query returns entries for the session passing the filter, in any order.
	Query(ctx context.Context, sessionID string, f Filter) ([]Entry, error)

	// HasSession reports whether the backend holds any entry for the session.
	HasSession(ctx context.Context, sessionID string) (bool, error)
}

// Appender is the write side of a durable backend.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{7,63}$`)

// ValidateSessionID rejects malformed session identifiers before any lookup.
func ValidateSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return apperror.NewInvalidSessionID(sessionID)
	}
	return nil
}
