package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ========================================
// Run Events - structured event stream for one run
// ========================================

// RunEvent is one notable occurrence during a run: commands failing,
// reconnections, loops completing. Events land in the run store, the
// structured log, a recent-events ring and (optionally) MQTT.
type RunEvent struct {
	ID        string `json:"id"`
	RunID     string `json:"runId"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Type      string `json:"type"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
}

const (
	EventRunStarted     = "run_started"
	EventRunFinished    = "run_finished"
	EventCommandFailed  = "command_failed"
	EventCommandWarning = "command_warning"
	EventReconnecting   = "reconnecting"
	EventReconnected    = "reconnected"
	EventPrepareFailed  = "prepare_failed"
	EventLoopCompleted  = "loop_completed"
)

// RingBuffer keeps the most recent events in memory for quick inspection.
type RingBuffer struct {
	data  []RunEvent
	size  int
	head  int
	count int
	mu    sync.RWMutex
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		data: make([]RunEvent, size),
		size: size,
	}
}

func (r *RingBuffer) Push(event RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.head] = event
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) GetRecent(n int) []RunEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n == 0 {
		return nil
	}

	result := make([]RunEvent, n)
	start := (r.head - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.data[(start+i)%r.size]
	}
	return result
}

func (r *RingBuffer) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// ========================================
// RunRecorder - fan-out for run events
// ========================================

// RunRecorder turns run milestones into RunEvents and fans them out. All
// sinks are best effort: a slow or broken sink never stalls the run.
type RunRecorder struct {
	store    *RunStore
	notifier *StatusNotifier
	recent   *RingBuffer

	runID  string
	device string
	test   string
	now    func() time.Time
}

func NewRunRecorder(store *RunStore, notifier *StatusNotifier, device, test string) *RunRecorder {
	return &RunRecorder{
		store:    store,
		notifier: notifier,
		recent:   NewRingBuffer(256),
		device:   device,
		test:     test,
		now:      time.Now,
	}
}

func (r *RunRecorder) Recent(n int) []RunEvent {
	return r.recent.GetRecent(n)
}

func (r *RunRecorder) emit(eventType, level, message, detail string) {
	ev := RunEvent{
		ID:        uuid.New().String(),
		RunID:     r.runID,
		Timestamp: r.now().UnixMilli(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		Detail:    detail,
	}

	if r.store != nil {
		r.store.AppendEvent(ev)
	}
	r.recent.Push(ev)

	Logger.WithLevel(zerologLevel(level)).
		Str("module", "run").
		Str("run_id", r.runID).
		Str("device", r.device).
		Str("type", eventType).
		Str("detail", detail).
		Msg(message)

	if r.notifier != nil {
		r.notifier.Publish(r.device, ev)
	}
}

func (r *RunRecorder) RunStarted(session TestSession) {
	r.runID = session.ID
	if r.store != nil {
		err := r.store.InsertRun(RunRecord{
			ID:             session.ID,
			Device:         r.device,
			Test:           session.Test,
			StartTime:      session.Start.UnixMilli(),
			DurationBudget: int64(session.Deadline.Sub(session.Start).Seconds()),
		})
		if err != nil {
			LogError("run").Err(err).Msg("failed to record run start")
		}
	}
	r.emit(EventRunStarted, "info", "run started: "+session.Test, "")
}

func (r *RunRecorder) RunFinished(session TestSession, outcome Outcome, reconnections int) {
	r.emit(EventRunFinished, "info", "run finished: "+outcome.String(), "")
	if r.store != nil {
		err := r.store.FinishRun(session.ID, r.now().UnixMilli(), session.Loop, reconnections, outcome.String())
		if err != nil {
			LogError("run").Err(err).Msg("failed to record run outcome")
		}
	}
}

func (r *RunRecorder) CommandFailed(command string, res CommandResult) {
	r.emit(EventCommandFailed, "error", "command failed: "+command, res.String())
}

func (r *RunRecorder) CommandWarning(command, detail string) {
	r.emit(EventCommandWarning, "warn", "unexpected output from "+command, detail)
}

func (r *RunRecorder) Reconnecting(addr string) {
	r.emit(EventReconnecting, "warn", "connection lost to "+addr, "")
}

func (r *RunRecorder) Reconnected(addr string, attempts int) {
	r.emit(EventReconnected, "info", "reconnected to "+addr, "")
	LogInfo("run").Int("attempts", attempts).Msg("reconnection succeeded")
}

func (r *RunRecorder) PrepareFailed(detail string) {
	r.emit(EventPrepareFailed, "warn", "device preparation failed", detail)
}

func (r *RunRecorder) LoopCompleted(loop int) {
	r.emit(EventLoopCompleted, "info", "loop completed", "")
	LogDebug("run").Int("loop", loop).Msg("loop concluded")
}
