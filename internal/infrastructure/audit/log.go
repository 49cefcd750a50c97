// Package audit writes the append-only NDJSON trail of privileged
// operations, one file per UTC day.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Log appends audit entries to audit-YYYY-MM-DD.ndjson files under dir.
type Log struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewLog builds an audit log rooted at dir. The directory is created on the
// first append.
func NewLog(dir string) *Log {
	return &Log{dir: dir, now: time.Now}
}

func (l *Log) fileFor(t time.Time) string {
	return filepath.Join(l.dir, "audit-"+t.UTC().Format("2006-01-02")+".ndjson")
}

// Append writes one entry as a single JSON line. A zero Timestamp is filled
// with the current time in epoch milliseconds.
func (l *Log) Append(entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry.Timestamp == 0 {
		entry.Timestamp = now.UnixMilli()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.fileFor(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Read returns the entries recorded on the given UTC date (YYYY-MM-DD).
// A day with no file yields an empty slice.
func (l *Log) Read(date string) ([]domain.AuditEntry, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("bad audit date %q: %w", date, err)
	}

	f, err := os.Open(l.fileFor(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	var entries []domain.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return entries, nil
}

var _ ports.AuditSink = (*Log)(nil)
