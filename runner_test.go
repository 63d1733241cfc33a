package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRun(t *testing.T, bridge *fakeBridge, clock *fakeClock, def *TestDefinition) (*Runner, *Supervisor, *SessionLog) {
	t.Helper()

	audit := newTestSessionLog(t)
	audit.now = clock.Now
	rec := NewRunRecorder(nil, nil, "10.0.0.2:5555", def.Name)
	rec.now = clock.Now
	prep := NewPreconditioner(bridge, audit)

	sup := NewSupervisor(bridge, "10.0.0.2:5555", prep, audit, rec, DefaultSupervisorConfig())
	sup.now, sup.sleep = clock.Now, clock.Sleep

	runner := NewRunner(sup, def, audit, rec)
	runner.now = clock.Now
	return runner, sup, audit
}

// TestRunCompletesAtDeadline verifies a healthy run loops until the budget
// expires and ends as completed
func TestRunCompletesAtDeadline(t *testing.T) {
	def := &TestDefinition{
		Name:    "probe",
		Title:   "Probe",
		Initial: seq(KeyHome), // 10s settle
		Body:    seq(KeyOK),   // 5s settle
	}
	bridge := &fakeBridge{}
	clock := newFakeClock()
	runner, _, audit := newTestRun(t, bridge, clock, def)

	outcome, err := runner.Run(context.Background(), 22*time.Second)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed", outcome)
	}
	if got := runner.Session().Loop; got != 3 {
		t.Errorf("Loop = %d, want 3", got)
	}

	log := readSessionLog(t, audit)
	if !strings.Contains(log, "=== INITIAL SEQUENCE COMPLETED ===") {
		t.Error("Expected the initial sequence line")
	}
	if !strings.Contains(log, "LOOP 3 CONCLUDED") {
		t.Error("Expected the third loop line")
	}
	if !strings.Contains(log, "TEST COMPLETED") {
		t.Error("Expected the completed terminal line")
	}
}

// TestRunLoopCounterSurvivesReconnection verifies a reconnection restarts
// the sequence from the top without resetting the loop counter
func TestRunLoopCounterSurvivesReconnection(t *testing.T) {
	def := &TestDefinition{
		Name:    "zap",
		Title:   "Zap",
		Initial: seq(KeyHome),                // 10s settle
		Body:    seq(KeyChannelUp, KeyOK),    // 20s + 5s settle
	}
	bridge := &fakeBridge{}
	okCalls := 0
	bridge.executeFn = func(_ string, cmd DeviceCommand) CommandResult {
		if cmd.Name == "KEY_OK" {
			okCalls++
			if okCalls == 2 {
				return CommandResult{Kind: ResultConnectionError, Detail: "device offline"}
			}
		}
		return CommandResult{Kind: ResultSuccess}
	}
	bridge.powerFn = func(_ string) PowerState { return PowerUnreachable }

	clock := newFakeClock()
	runner, sup, audit := newTestRun(t, bridge, clock, def)

	outcome, err := runner.Run(context.Background(), 120*time.Second)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed", outcome)
	}
	if sup.Reconnections() != 1 {
		t.Errorf("Reconnections = %d, want 1", sup.Reconnections())
	}

	log := readSessionLog(t, audit)
	if !strings.Contains(log, "RESTARTING TEST FROM BEGINNING") {
		t.Error("Expected the restart line after reconnection")
	}
	// One loop finished before the failure, at least one after; the counter
	// must not have restarted at 1 after the reconnection.
	if !strings.Contains(log, "LOOP 2 CONCLUDED") {
		t.Errorf("Expected loop numbering to continue; log:\n%s", log)
	}
	if runner.Session().Loop < 2 {
		t.Errorf("Loop = %d, want >= 2", runner.Session().Loop)
	}
}

// TestRunIncompleteWhenDeadlineDuringReconnection verifies the dedicated
// terminal state for a budget that expires while the device is gone
func TestRunIncompleteWhenDeadlineDuringReconnection(t *testing.T) {
	def := &TestDefinition{
		Name: "flaky",
		Body: seq(KeyOK),
	}
	bridge := &fakeBridge{}
	bridge.executeFn = func(_ string, cmd DeviceCommand) CommandResult {
		if cmd.Name == "KEY_OK" {
			return CommandResult{Kind: ResultConnectionError, Detail: "device offline"}
		}
		return CommandResult{Kind: ResultSuccess}
	}
	bridge.powerFn = func(_ string) PowerState { return PowerUnreachable }

	clock := newFakeClock()
	runner, _, audit := newTestRun(t, bridge, clock, def)

	// ConnectInitial must succeed, later reconnects must not.
	connected := false
	bridge.connectFn = func(addr string) (string, error) {
		if !connected {
			connected = true
			return "connected to " + addr, nil
		}
		return "", errors.New("failed to connect")
	}

	outcome, err := runner.Run(context.Background(), 60*time.Second)
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Expected ErrDeadlineExceeded, got %v", err)
	}
	if outcome != OutcomeIncomplete {
		t.Fatalf("Outcome = %v, want incomplete", outcome)
	}
	if !strings.Contains(readSessionLog(t, audit), "TEST INCOMPLETE") {
		t.Error("Expected the incomplete terminal line")
	}
}

// TestRunAbortedBySignal verifies cancellation ends the run with the abort
// outcome and terminal line
func TestRunAbortedBySignal(t *testing.T) {
	def := &TestDefinition{
		Name: "probe",
		Body: seq(KeyOK),
	}
	ctx, cancel := context.WithCancel(context.Background())

	bridge := &fakeBridge{}
	bridge.executeFn = func(_ string, cmd DeviceCommand) CommandResult {
		if cmd.Name == "KEY_OK" {
			cancel() // operator hits Ctrl-C mid-loop
		}
		return CommandResult{Kind: ResultSuccess}
	}

	clock := newFakeClock()
	runner, _, audit := newTestRun(t, bridge, clock, def)

	outcome, err := runner.Run(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeAbortedBySignal {
		t.Fatalf("Outcome = %v, want aborted", outcome)
	}
	if outcome.ExitCode() != 130 {
		t.Errorf("ExitCode = %d, want 130", outcome.ExitCode())
	}
	if !strings.Contains(readSessionLog(t, audit), "TEST ABORTED") {
		t.Error("Expected the aborted terminal line")
	}
}

// TestRunInitialConnectFailureIsFatal verifies a device that never answers
// fails the run immediately
func TestRunInitialConnectFailureIsFatal(t *testing.T) {
	def := &TestDefinition{Name: "probe", Body: seq(KeyOK)}
	bridge := &fakeBridge{}
	bridge.connectFn = func(_ string) (string, error) {
		return "", errors.New("failed to connect to 10.0.0.2:5555")
	}

	clock := newFakeClock()
	runner, _, _ := newTestRun(t, bridge, clock, def)

	outcome, err := runner.Run(context.Background(), time.Hour)
	if err == nil {
		t.Fatal("Expected an error for an unreachable device")
	}
	if outcome != OutcomeIncomplete {
		t.Errorf("Outcome = %v, want incomplete", outcome)
	}
	if got := len(bridge.executedNames()); got != 0 {
		t.Errorf("No commands should run without a connection, got %v", bridge.executedNames())
	}
}

func TestOutcomeExitCodes(t *testing.T) {
	cases := map[Outcome]int{
		OutcomeCompleted:       0,
		OutcomeIncomplete:      1,
		OutcomeAbortedBySignal: 130,
	}
	for outcome, want := range cases {
		if got := outcome.ExitCode(); got != want {
			t.Errorf("ExitCode(%v) = %d, want %d", outcome, got, want)
		}
	}
}
