package migrationlog

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"deltasync/internal/core/apperror"
	"deltasync/pkg/logger"
)

// PagedLogs is one page of merged log entries.
type PagedLogs struct {
	SessionID  string  `json:"sessionId"`
	Entries    []Entry `json:"entries"`
	TotalCount int     `json:"totalCount"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
}

// Service merges the durable store and the on-disk files into one view.
type Service struct {
	store       Backend
	files       Backend
	maxDownload int
}

// NewService creates the log repository service. maxDownload caps export
// volume; zero applies the default.
func NewService(store, files Backend, maxDownload int) *Service {
	if maxDownload <= 0 {
		maxDownload = 50_000
	}
	return &Service{store: store, files: files, maxDownload: maxDownload}
}

// GetLogs returns one filtered page, newest first. Entries present in both
// backends are de-duplicated by (timestamp, message, sessionId).
func (s *Service) GetLogs(ctx context.Context, sessionID string, f Filter, page Page) (*PagedLogs, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	page = normalizePage(page)

	merged, err := s.collect(ctx, sessionID, f)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		if err := s.ensureSessionKnown(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	total := len(merged)
	lo := page.Offset
	if lo > total {
		lo = total
	}
	hi := lo + page.Limit
	if hi > total {
		hi = total
	}

	return &PagedLogs{
		SessionID:  sessionID,
		Entries:    merged[lo:hi],
		TotalCount: total,
		Limit:      page.Limit,
		Offset:     page.Offset,
	}, nil
}

// Export returns every matching entry for download mode, newest first,
// bounded by the configured cap.
func (s *Service) Export(ctx context.Context, sessionID string, f Filter) ([]Entry, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	merged, err := s.collect(ctx, sessionID, f)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		if err := s.ensureSessionKnown(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if len(merged) > s.maxDownload {
		return nil, apperror.NewLogProcessing(sessionID, len(merged)).
			WithDetail("maxDownload", s.maxDownload)
	}
	return merged, nil
}

// collect unions both backends, re-applies the filter, de-duplicates and
// sorts newest first.
func (s *Service) collect(ctx context.Context, sessionID string, f Filter) ([]Entry, error) {
	stored, err := s.store.Query(ctx, sessionID, f)
	if err != nil {
		return nil, s.classify(err, sessionID)
	}

	var fromFiles []Entry
	if s.files != nil {
		fromFiles, err = s.files.Query(ctx, sessionID, f)
		if err != nil {
			// Missing files are not fatal when the store already answered.
			if !apperror.IsCode(err, apperror.CodeLogFilesNotFound) {
				return nil, s.classify(err, sessionID)
			}
			logger.Debug(ctx, "no log files for session", "session_id", sessionID)
		}
	}

	seen := make(map[string]struct{}, len(stored)+len(fromFiles))
	merged := make([]Entry, 0, len(stored)+len(fromFiles))
	for _, e := range append(stored, fromFiles...) {
		if !f.Matches(e) {
			continue
		}
		key := strconv.FormatInt(e.Timestamp.UnixNano(), 10) + "\x00" + e.Message + "\x00" + e.SessionID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].LogID > merged[j].LogID
		}
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged, nil
}

// ensureSessionKnown distinguishes an empty filter result from an unknown
// session.
func (s *Service) ensureSessionKnown(ctx context.Context, sessionID string) error {
	known, err := s.store.HasSession(ctx, sessionID)
	if err != nil {
		return s.classify(err, sessionID)
	}
	if known {
		return nil
	}
	if s.files != nil {
		known, err = s.files.HasSession(ctx, sessionID)
		if err != nil && !apperror.IsCode(err, apperror.CodeLogFilesNotFound) {
			return s.classify(err, sessionID)
		}
		if known {
			return nil
		}
	}
	return apperror.NewSessionNotFound(sessionID)
}

func (s *Service) classify(err error, sessionID string) error {
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewLogRetrievalTimeout(sessionID)
	}
	return apperror.NewLogRetrievalFailed(err)
}

func normalizePage(page Page) Page {
	if page.Limit <= 0 {
		page.Limit = DefaultPageLimit
	}
	if page.Limit > MaxPageLimit {
		page.Limit = MaxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}
