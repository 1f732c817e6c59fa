// Package logfile reads and writes the append-only migration log files: one
// JSON entry per line, rotated by size.
package logfile

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/migrationlog"
)

// Backend reads migration log entries from *.log files in a directory.
type Backend struct {
	dir string
}

// NewBackend creates a file backend over dir. The directory's existence is
// checked per query, not here, so a backend can be wired before the first
// run ever writes a file.
func NewBackend(dir string) *Backend {
	return &Backend{dir: dir}
}

// NewSink opens the rotating writer the Recorder appends to.
func NewSink(dir string, maxSizeMB, maxBackups int) io.WriteCloser {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, "migration.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}

// Query scans every log file for entries of the session passing the filter.
func (b *Backend) Query(ctx context.Context, sessionID string, f migrationlog.Filter) ([]migrationlog.Entry, error) {
	var entries []migrationlog.Entry
	err := b.scan(ctx, sessionID, func(e migrationlog.Entry) bool {
		if f.Matches(e) {
			entries = append(entries, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// HasSession reports whether any file holds an entry for the session.
func (b *Backend) HasSession(ctx context.Context, sessionID string) (bool, error) {
	found := false
	err := b.scan(ctx, sessionID, func(migrationlog.Entry) bool {
		found = true
		return false
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// scan walks the log files oldest first and feeds the session's entries to
// visit until it returns false.
func (b *Backend) scan(ctx context.Context, sessionID string, visit func(migrationlog.Entry) bool) error {
	files, err := b.logFiles(sessionID)
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := scanFile(path, sessionID, visit)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// scanFile reads one JSON-lines file. Lines that fail to decode are skipped;
// a log file survives partial writes from a crashed process.
func scanFile(path, sessionID string, visit func(migrationlog.Entry) bool) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Rotated away between listing and open.
			return false, nil
		}
		return false, apperror.NewLogRetrievalFailed(err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry migrationlog.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.SessionID != sessionID {
			continue
		}
		if !visit(entry) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, apperror.NewLogRetrievalFailed(err)
	}
	return false, nil
}

func (b *Backend) logFiles(sessionID string) ([]string, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.NewLogFilesNotFound(sessionID)
		}
		return nil, apperror.NewLogRetrievalFailed(err)
	}

	var files []string
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		files = append(files, filepath.Join(b.dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, apperror.NewLogFilesNotFound(sessionID)
	}
	sort.Strings(files)
	return files, nil
}

var _ migrationlog.Backend = (*Backend)(nil)
