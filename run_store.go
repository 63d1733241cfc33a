package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// RunStore - SQLite audit store for runs and run events
// ========================================
//
// The session log file is the operator-facing record; this store is the
// queryable one. Every run and every notable event during it lands here so
// `stbtest list` can answer "what happened overnight" without grepping logs.

type RunStore struct {
	db     *sql.DB
	dbPath string

	// write buffer for events
	writeBuffer    []RunEvent
	writeBufferMu  sync.Mutex
	flushInterval  time.Duration
	flushThreshold int
	flushTicker    *time.Ticker
	stopChan       chan struct{}

	stmtInsertEvent *sql.Stmt
	stmtInsertRun   *sql.Stmt
	stmtFinishRun   *sql.Stmt
}

const runSchemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA temp_store = MEMORY;

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    device TEXT NOT NULL,
    test TEXT NOT NULL,
    log_path TEXT,
    start_time INTEGER NOT NULL,
    end_time INTEGER DEFAULT 0,
    duration_budget INTEGER NOT NULL,
    loops INTEGER DEFAULT 0,
    reconnections INTEGER DEFAULT 0,
    outcome TEXT DEFAULT 'running'
);

CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device);
CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(start_time DESC);

CREATE TABLE IF NOT EXISTS run_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    type TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    detail TEXT,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(run_id, type);
`

func NewRunStore(dataDir string) (*RunStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "runs.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is a single-writer store
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &RunStore{
		db:             db,
		dbPath:         dbPath,
		writeBuffer:    make([]RunEvent, 0, 256),
		flushInterval:  500 * time.Millisecond,
		flushThreshold: 100,
		stopChan:       make(chan struct{}),
	}

	if _, err := db.Exec(runSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	store.startBackgroundWriter()
	return store, nil
}

func (s *RunStore) prepareStatements() error {
	var err error

	s.stmtInsertEvent, err = s.db.Prepare(`
		INSERT INTO run_events (id, run_id, timestamp, type, level, message, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert event: %w", err)
	}

	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT INTO runs (id, device, test, log_path, start_time, duration_budget)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert run: %w", err)
	}

	s.stmtFinishRun, err = s.db.Prepare(`
		UPDATE runs SET end_time = ?, loops = ?, reconnections = ?, outcome = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare finish run: %w", err)
	}

	return nil
}

func (s *RunStore) startBackgroundWriter() {
	s.flushTicker = time.NewTicker(s.flushInterval)

	go func() {
		for {
			select {
			case <-s.flushTicker.C:
				s.Flush()
			case <-s.stopChan:
				s.flushTicker.Stop()
				s.Flush()
				return
			}
		}
	}()
}

func (s *RunStore) Close() error {
	close(s.stopChan)
	time.Sleep(100 * time.Millisecond)

	if s.stmtInsertEvent != nil {
		s.stmtInsertEvent.Close()
	}
	if s.stmtInsertRun != nil {
		s.stmtInsertRun.Close()
	}
	if s.stmtFinishRun != nil {
		s.stmtFinishRun.Close()
	}

	return s.db.Close()
}

// ========================================
// Run lifecycle
// ========================================

// RunRecord mirrors one row of the runs table.
type RunRecord struct {
	ID             string
	Device         string
	Test           string
	LogPath        string
	StartTime      int64 // unix millis
	EndTime        int64
	DurationBudget int64 // seconds
	Loops          int
	Reconnections  int
	Outcome        string
}

func (s *RunStore) InsertRun(rec RunRecord) error {
	_, err := s.stmtInsertRun.Exec(
		rec.ID, rec.Device, rec.Test, runNullString(rec.LogPath),
		rec.StartTime, rec.DurationBudget,
	)
	return err
}

func (s *RunStore) FinishRun(id string, endTime int64, loops, reconnections int, outcome string) error {
	// Event order in the store should match the run record, so drain the
	// buffer before writing the terminal row.
	s.Flush()
	_, err := s.stmtFinishRun.Exec(endTime, loops, reconnections, outcome, id)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT id, device, test, log_path, start_time, end_time,
			duration_budget, loops, reconnections, outcome
		FROM runs
		ORDER BY start_time DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var logPath sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Device, &r.Test, &logPath, &r.StartTime, &r.EndTime,
			&r.DurationBudget, &r.Loops, &r.Reconnections, &r.Outcome,
		); err != nil {
			return nil, err
		}
		r.LogPath = logPath.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ========================================
// Event writes
// ========================================

// AppendEvent buffers one event. The background writer batches them into a
// single transaction.
func (s *RunStore) AppendEvent(ev RunEvent) {
	s.writeBufferMu.Lock()
	s.writeBuffer = append(s.writeBuffer, ev)
	shouldFlush := len(s.writeBuffer) >= s.flushThreshold
	s.writeBufferMu.Unlock()

	if shouldFlush {
		go s.Flush()
	}
}

func (s *RunStore) Flush() {
	s.writeBufferMu.Lock()
	if len(s.writeBuffer) == 0 {
		s.writeBufferMu.Unlock()
		return
	}
	events := s.writeBuffer
	s.writeBuffer = make([]RunEvent, 0, 256)
	s.writeBufferMu.Unlock()

	if err := s.writeEventsBatch(events); err != nil {
		LogError("run_store").Err(err).Int("count", len(events)).Msg("failed to flush run events")
	}
}

func (s *RunStore) writeEventsBatch(events []RunEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.stmtInsertEvent)
	for _, ev := range events {
		if _, err := stmt.Exec(
			ev.ID, ev.RunID, ev.Timestamp, ev.Type, ev.Level,
			ev.Message, runNullString(ev.Detail),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// EventsForRun returns a run's events in chronological order.
func (s *RunStore) EventsForRun(runID string) ([]RunEvent, error) {
	s.Flush()

	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, type, level, message, detail
		FROM run_events
		WHERE run_id = ?
		ORDER BY timestamp, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Timestamp, &ev.Type, &ev.Level, &ev.Message, &detail); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CleanupOldRuns deletes finished runs older than maxAge.
func (s *RunStore) CleanupOldRuns(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.db.Exec(`
		DELETE FROM runs
		WHERE end_time > 0 AND end_time < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func runNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
