package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ========================================
// SessionLog - timestamped audit trail for one endurance run
// ========================================

const sessionTimeFormat = "2006-01-02 15:04:05"

// maxLogNameLen matches the operator-facing limit on log names.
const maxLogNameLen = 50

// SessionLog appends `[YYYY-MM-DD HH:MM:SS] message` lines to the run's log
// file. Single writer, unbuffered so the latest diagnostic context survives a
// crash. Every line is optionally echoed to a console writer.
type SessionLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
	echo io.Writer
	now  func() time.Time
}

// NewSessionLog opens (or creates) the log file at path for appending.
func NewSessionLog(path string, echo io.Writer) (*SessionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return &SessionLog{f: f, path: path, echo: echo, now: time.Now}, nil
}

// Logf appends one timestamped line and flushes it immediately.
func (l *SessionLog) Logf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", l.now().Format(sessionTimeFormat), fmt.Sprintf(format, args...))
	if l.f != nil {
		fmt.Fprintln(l.f, line)
	}
	if l.echo != nil {
		fmt.Fprintln(l.echo, line)
	}
}

// Sync forces the file contents to stable storage. Used for the final entry
// of a run so the outcome line is never lost to a crash or power cut.
func (l *SessionLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Sync()
}

func (l *SessionLog) Path() string {
	return l.path
}

func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// SessionLogPath builds the log file path for a run: <dir>/<name>_<ts>.txt.
// An empty name falls back to log_<test>; spaces become underscores; names
// over the limit are rejected so operators notice instead of getting a
// silently truncated file.
func SessionLogPath(dir, name, test string, now time.Time) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "" {
		name = "log_" + strings.ToLower(test)
	}
	if len(name) > maxLogNameLen {
		return "", fmt.Errorf("log name too long: %d characters (max %d)", len(name), maxLogNameLen)
	}
	filename := fmt.Sprintf("%s_%s.txt", name, now.Format("20060102_1504"))
	return filepath.Join(dir, filename), nil
}
