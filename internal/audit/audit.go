// Package audit persists a durable trail of sync conflicts.
//
// Conflict reports themselves live only in memory until resolved; the
// audit log is the one place a resolved (or abandoned) conflict can be
// reconstructed from later. Entries are JSON lines; the file is size-
// rotated so long-running daemons cannot fill the disk.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/blackroad/statesync/internal/syncer"
)

// Entry is one audit log line.
type Entry struct {
	LoggedAt   time.Time `json:"logged_at"`
	Key        string    `json:"key"`
	Backend    string    `json:"backend"`
	Fields     []string  `json:"fields"`
	DetectedAt time.Time `json:"detected_at"`

	Base   map[string]any `json:"base,omitempty"`
	Local  map[string]any `json:"local,omitempty"`
	Remote map[string]any `json:"remote,omitempty"`
}

// Log is an append-only, size-rotated conflict log. It implements
// syncer.ConflictAuditor.
type Log struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// Open creates a Log writing to path. Parent directories must exist.
func Open(path string) *Log {
	return &Log{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     90, // days
			Compress:   true,
		},
	}
}

// LogConflict appends a conflict report as one JSON line.
func (l *Log) LogConflict(report *syncer.ConflictReport) error {
	entry := Entry{
		LoggedAt:   time.Now().UTC(),
		Key:        report.Key,
		Backend:    report.Backend,
		Fields:     report.Fields(),
		DetectedAt: report.DetectedAt,
		Base:       report.Base,
		Local:      report.Local,
		Remote:     report.Remote,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
