package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestSessionLogLineFormat verifies the timestamped line layout
func TestSessionLogLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.txt")
	log, err := NewSessionLog(path, nil)
	if err != nil {
		t.Fatalf("Failed to create session log: %v", err)
	}
	defer log.Close()

	log.now = func() time.Time {
		return time.Date(2024, 6, 1, 14, 30, 5, 0, time.UTC)
	}
	log.Logf("LOOP %d CONCLUDED", 7)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	want := "[2024-06-01 14:30:05] LOOP 7 CONCLUDED\n"
	if string(data) != want {
		t.Errorf("Log line = %q, want %q", string(data), want)
	}
}

// TestSessionLogAppends verifies lines accumulate in order
func TestSessionLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.txt")
	log, err := NewSessionLog(path, nil)
	if err != nil {
		t.Fatalf("Failed to create session log: %v", err)
	}
	defer log.Close()

	log.Logf("first")
	log.Logf("second")

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "first") || !strings.HasSuffix(lines[1], "second") {
		t.Errorf("Lines out of order: %v", lines)
	}
}

// TestSessionLogEcho verifies lines are mirrored to the echo writer
func TestSessionLogEcho(t *testing.T) {
	var echo strings.Builder
	path := filepath.Join(t.TempDir(), "run.txt")
	log, err := NewSessionLog(path, &echo)
	if err != nil {
		t.Fatalf("Failed to create session log: %v", err)
	}
	defer log.Close()

	log.Logf("hello")
	if !strings.Contains(echo.String(), "hello") {
		t.Errorf("Echo writer missed the line: %q", echo.String())
	}
}

// TestSessionLogPath covers name normalization and the length limit
func TestSessionLogPath(t *testing.T) {
	now := time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		logName  string
		test     string
		wantBase string
		wantErr  bool
	}{
		{
			name:     "explicit name",
			logName:  "overnight run",
			test:     "zapping-standard",
			wantBase: "overnight_run_20240601_1430.txt",
		},
		{
			name:     "empty name falls back to test",
			logName:  "",
			test:     "Zapping-Standard",
			wantBase: "log_zapping-standard_20240601_1430.txt",
		},
		{
			name:    "name over the limit is rejected",
			logName: strings.Repeat("x", maxLogNameLen+1),
			test:    "apps",
			wantErr: true,
		},
		{
			name:     "name at the limit is accepted",
			logName:  strings.Repeat("x", maxLogNameLen),
			test:     "apps",
			wantBase: strings.Repeat("x", maxLogNameLen) + "_20240601_1430.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SessionLogPath("logs_stb", tt.logName, tt.test, now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SessionLogPath failed: %v", err)
			}
			if filepath.Base(got) != tt.wantBase {
				t.Errorf("Base = %s, want %s", filepath.Base(got), tt.wantBase)
			}
			if filepath.Dir(got) != "logs_stb" {
				t.Errorf("Dir = %s, want logs_stb", filepath.Dir(got))
			}
		})
	}
}
