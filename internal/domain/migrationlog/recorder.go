package migrationlog

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"deltasync/internal/core/appctx"
	"deltasync/pkg/logger"
)

// Keys in a details map lifted into the entry's performance block.
var performanceKeys = map[string]struct{}{
	"durationMs":       {},
	"analysisTimeMs":   {},
	"recordsPerSecond": {},
	"queriesExecuted":  {},
}

// Recorder is the write side of the log repository: every entry goes to the
// durable store and, as a JSON line, to the append-only file sink. Satisfies
// detection.Journal.
type Recorder struct {
	store Appender
	sink  io.Writer

	mu sync.Mutex // serializes sink writes
}

// NewRecorder creates a recorder. Either destination may be nil; the other
// still receives entries.
func NewRecorder(store Appender, sink io.Writer) *Recorder {
	return &Recorder{store: store, sink: sink}
}

// Debug records a debug-level entry.
func (r *Recorder) Debug(ctx context.Context, entityType, message string, details map[string]any) {
	r.record(ctx, LevelDebug, entityType, message, details)
}

// Info records an info-level entry.
func (r *Recorder) Info(ctx context.Context, entityType, message string, details map[string]any) {
	r.record(ctx, LevelInfo, entityType, message, details)
}

// Warn records a warn-level entry.
func (r *Recorder) Warn(ctx context.Context, entityType, message string, details map[string]any) {
	r.record(ctx, LevelWarn, entityType, message, details)
}

// Error records an error-level entry.
func (r *Recorder) Error(ctx context.Context, entityType, message string, details map[string]any) {
	r.record(ctx, LevelError, entityType, message, details)
}

func (r *Recorder) record(ctx context.Context, level Level, entityType, message string, details map[string]any) {
	entry := Entry{
		LogID:      uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Level:      level,
		SessionID:  appctx.GetSessionID(ctx),
		EntityType: entityType,
		Message:    message,
	}

	for k, v := range details {
		if _, perf := performanceKeys[k]; perf {
			if entry.Performance == nil {
				entry.Performance = make(map[string]any)
			}
			entry.Performance[k] = v
			continue
		}
		if k == "batchNumber" {
			if n, ok := toInt(v); ok {
				entry.BatchNumber = &n
				continue
			}
		}
		if entry.Details == nil {
			entry.Details = make(map[string]any)
		}
		entry.Details[k] = v
	}

	if trace := appctx.GetTrace(ctx); trace != nil {
		entry.Context = map[string]any{"requestId": trace.RequestID, "traceId": trace.TraceID}
	}

	if r.sink != nil {
		if line, err := json.Marshal(entry); err == nil {
			r.mu.Lock()
			_, _ = r.sink.Write(append(line, '\n'))
			r.mu.Unlock()
		}
	}

	if r.store != nil {
		if err := r.store.Append(ctx, entry); err != nil {
			// Journaling must never fail the pipeline.
			logger.Warn(ctx, "durable log append failed", "error", err)
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
