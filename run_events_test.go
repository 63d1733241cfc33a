package main

import (
	"testing"
	"time"
)

// TestRingBuffer verifies wraparound and recent-order retrieval
func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	if got := rb.GetRecent(5); got != nil {
		t.Errorf("Empty buffer should return nil, got %v", got)
	}

	for i := 0; i < 5; i++ {
		rb.Push(RunEvent{Timestamp: int64(i)})
	}

	if rb.Size() != 3 {
		t.Errorf("Size = %d, want 3", rb.Size())
	}

	recent := rb.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(recent))
	}
	// Oldest of the surviving three first.
	for i, want := range []int64{2, 3, 4} {
		if recent[i].Timestamp != want {
			t.Errorf("recent[%d].Timestamp = %d, want %d", i, recent[i].Timestamp, want)
		}
	}

	if got := rb.GetRecent(2); len(got) != 2 || got[1].Timestamp != 4 {
		t.Errorf("GetRecent(2) = %v", got)
	}
}

// TestRecorderStoresEvents verifies the recorder writes through to the store
func TestRecorderStoresEvents(t *testing.T) {
	store := setupRunStore(t)
	rec := NewRunRecorder(store, nil, "10.0.0.2:5555", "apps")

	session := TestSession{
		ID:       "run-1",
		Test:     "apps",
		Start:    time.Now(),
		Deadline: time.Now().Add(time.Hour),
	}
	rec.RunStarted(session)
	rec.CommandFailed("KEY_OK", CommandResult{Kind: ResultTimeout, Detail: "no response"})
	rec.Reconnecting("10.0.0.2:5555")
	rec.Reconnected("10.0.0.2:5555", 3)
	session.Loop = 1
	rec.LoopCompleted(1)
	rec.RunFinished(session, OutcomeCompleted, 1)

	events, err := store.EventsForRun("run-1")
	if err != nil {
		t.Fatalf("EventsForRun failed: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}
	if events[0].Type != EventRunStarted || events[len(events)-1].Type != EventRunFinished {
		t.Errorf("Event bracketing wrong: first=%s last=%s", events[0].Type, events[len(events)-1].Type)
	}

	runs, _ := store.ListRuns(1)
	if len(runs) != 1 || runs[0].Outcome != "completed" || runs[0].Loops != 1 {
		t.Errorf("Run record wrong: %+v", runs)
	}

	if got := rec.Recent(3); len(got) != 3 {
		t.Errorf("Recent(3) = %d events, want 3", len(got))
	}
}
