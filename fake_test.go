package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeBridge is a scriptable Bridge for exercising the recovery engine
// without a device. Unset functions default to healthy behavior.
type fakeBridge struct {
	mu       sync.Mutex
	executed []string // command names in send order

	executeFn    func(deviceID string, cmd DeviceCommand) CommandResult
	connectFn    func(addr string) (string, error)
	disconnectFn func(addr string) error
	stateFn      func(deviceID string) (string, error)
	powerFn      func(deviceID string) PowerState

	connectCalls int
	powerCalls   int
}

func (f *fakeBridge) Execute(_ context.Context, deviceID string, cmd DeviceCommand) CommandResult {
	f.mu.Lock()
	f.executed = append(f.executed, cmd.Name)
	f.mu.Unlock()

	if f.executeFn != nil {
		return f.executeFn(deviceID, cmd)
	}
	return CommandResult{Kind: ResultSuccess}
}

func (f *fakeBridge) Connect(_ context.Context, addr string) (string, error) {
	f.mu.Lock()
	f.connectCalls++
	f.mu.Unlock()

	if f.connectFn != nil {
		return f.connectFn(addr)
	}
	return "connected to " + addr, nil
}

func (f *fakeBridge) Disconnect(_ context.Context, addr string) error {
	if f.disconnectFn != nil {
		return f.disconnectFn(addr)
	}
	return nil
}

func (f *fakeBridge) State(_ context.Context, deviceID string) (string, error) {
	if f.stateFn != nil {
		return f.stateFn(deviceID)
	}
	return "device", nil
}

func (f *fakeBridge) PowerState(_ context.Context, deviceID string) PowerState {
	f.mu.Lock()
	f.powerCalls++
	f.mu.Unlock()

	if f.powerFn != nil {
		return f.powerFn(deviceID)
	}
	return PowerAwake
}

// executedNames returns a copy of the command names sent so far.
func (f *fakeBridge) executedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

func (f *fakeBridge) countExecuted(name string) int {
	n := 0
	for _, e := range f.executedNames() {
		if e == name {
			n++
		}
	}
	return n
}

// fakeClock replaces time.Now/time.Sleep so recovery loops run instantly and
// deterministically. Sleep advances the clock instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestSessionLog writes the audit log into the test's temp dir.
func newTestSessionLog(t *testing.T) *SessionLog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.txt")
	log, err := NewSessionLog(path, nil)
	if err != nil {
		t.Fatalf("Failed to create session log: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

// readSessionLog returns the raw contents of the session log file.
func readSessionLog(t *testing.T, log *SessionLog) string {
	t.Helper()

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("Failed to read session log: %v", err)
	}
	return string(data)
}

// newTestSupervisor wires a supervisor around a fake bridge and fake clock.
func newTestSupervisor(t *testing.T, bridge *fakeBridge, clock *fakeClock) (*Supervisor, *SessionLog) {
	t.Helper()

	audit := newTestSessionLog(t)
	audit.now = clock.Now
	rec := NewRunRecorder(nil, nil, "10.0.0.2:5555", "test")
	rec.now = clock.Now
	prep := NewPreconditioner(bridge, audit)

	cfg := DefaultSupervisorConfig()
	sup := NewSupervisor(bridge, "10.0.0.2:5555", prep, audit, rec, cfg)
	sup.now = clock.Now
	sup.sleep = clock.Sleep
	return sup, audit
}
