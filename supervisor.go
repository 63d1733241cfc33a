package main

import (
	"context"
	"errors"
	"time"
)

// ========================================
// ReconnectionSupervisor - keeps the device session alive
// ========================================

// SupervisorState tracks where the session is in its lifecycle.
type SupervisorState int

const (
	StateIdle SupervisorState = iota
	StateConnected
	StateFailing
	StateReconnecting
	StateReinitializing
	StateAborted
)

func (s SupervisorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateFailing:
		return "failing"
	case StateReconnecting:
		return "reconnecting"
	case StateReinitializing:
		return "reinitializing"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrDeadlineExceeded is returned when the run's time budget expires while
// the supervisor is still trying to bring the device back.
var ErrDeadlineExceeded = errors.New("maximum execution time reached during reconnection")

// ErrAborted is returned when the operator cancels the run.
var ErrAborted = errors.New("run aborted by operator")

// DeviceHandle is the supervisor's view of the device under test.
type DeviceHandle struct {
	Addr      string
	Connected bool
	LastSeen  time.Time
}

type SupervisorConfig struct {
	ConnectTimeout  time.Duration // per adb connect attempt
	RetryDelay      time.Duration // pause between reconnect attempts
	StandbyPoll     time.Duration // poll interval while device is in standby
	PostConnectWait time.Duration // settle time after a successful reconnect
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ConnectTimeout:  30 * time.Second,
		RetryDelay:      5 * time.Second,
		StandbyPoll:     10 * time.Second,
		PostConnectWait: 10 * time.Second,
	}
}

// Supervisor owns the connect / detect-failure / reconnect / reinitialize
// cycle. The runner sends every command through CheckAndSend and never talks
// to the bridge directly, so recovery policy lives in exactly one place.
type Supervisor struct {
	bridge  Bridge
	handle  *DeviceHandle
	prep    *Preconditioner
	audit   *SessionLog
	rec     *RunRecorder
	cfg     SupervisorConfig
	initial []DeviceCommand

	state         SupervisorState
	reconnections int

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

func NewSupervisor(bridge Bridge, addr string, prep *Preconditioner, audit *SessionLog, rec *RunRecorder, cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		bridge: bridge,
		handle: &DeviceHandle{Addr: addr},
		prep:   prep,
		audit:  audit,
		rec:    rec,
		cfg:    cfg,
		state:  StateIdle,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// SetInitialSequence registers the command sequence to replay after every
// successful reconnection, so the device ends up back at the test's starting
// screen before the run resumes.
func (s *Supervisor) SetInitialSequence(cmds []DeviceCommand) {
	s.initial = cmds
}

func (s *Supervisor) State() SupervisorState { return s.state }

func (s *Supervisor) Reconnections() int { return s.reconnections }

// ConnectInitial establishes the first connection of a run. Unlike mid-run
// recovery this is fatal on failure: a box that never answered is an
// operator problem, not a resilience problem.
func (s *Supervisor) ConnectInitial(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	out, err := s.bridge.Connect(connectCtx, s.handle.Addr)
	cancel()
	if err != nil {
		return err
	}

	state, err := s.bridge.State(ctx, s.handle.Addr)
	if err != nil {
		return err
	}
	if state != "device" {
		return errors.New("device is in state '" + state + "', expected 'device'")
	}

	s.audit.Logf("Connected to device %s", s.handle.Addr)
	LogInfo("supervisor").Str("device", s.handle.Addr).Str("output", out).Msg("initial connection established")

	if err := s.prep.Prepare(ctx, s.handle.Addr); err != nil {
		if !errors.Is(err, ErrPrepareFailed) {
			return err
		}
		s.rec.PrepareFailed(err.Error())
	}

	s.handle.Connected = true
	s.handle.LastSeen = s.now()
	s.state = StateConnected
	return nil
}

// CheckAndSend executes one command with the full recovery policy wrapped
// around it. The returned bool reports whether a reconnection happened while
// handling this command, which tells the runner to restart its sequence.
//
// Outcome handling:
//   - success: settle delay applies, command is done
//   - unexpected output: logged and tolerated, command is done
//   - timeout / connection error: the device is probed; standby routes to a
//     wake attempt, everything else to the reconnect loop
func (s *Supervisor) CheckAndSend(ctx context.Context, cmd DeviceCommand, deadline time.Time) (bool, error) {
	// A device parked in standby by a previous command is not a failure.
	// Wait for it to come back before sending anything.
	if cmd.Kind == KindKey || cmd.Kind == KindLaunch || cmd.Kind == KindActivity {
		if ps := s.bridge.PowerState(ctx, s.handle.Addr); ps == PowerStandby {
			if err := s.waitStandbyExit(ctx, deadline); err != nil {
				return false, err
			}
		}
	}

	res := s.bridge.Execute(ctx, s.handle.Addr, cmd)
	switch res.Kind {
	case ResultSuccess:
		s.handle.LastSeen = s.now()
		s.settle(cmd)
		return false, nil

	case ResultUnexpectedOutput:
		// Tolerated: the command went through, the output just looked odd.
		s.handle.LastSeen = s.now()
		s.audit.Logf("WARNING: unexpected output from '%s': %s", cmd.Name, res.Detail)
		s.rec.CommandWarning(cmd.Name, res.Detail)
		s.settle(cmd)
		return false, nil
	}

	// Timeout or connection error: the session is in doubt.
	s.state = StateFailing
	s.handle.Connected = false
	s.audit.Logf("Command '%s' failed: %s", cmd.Name, res)
	s.rec.CommandFailed(cmd.Name, res)

	if ps := s.bridge.PowerState(ctx, s.handle.Addr); ps == PowerStandby {
		if ok := s.tryWake(ctx, deadline); ok {
			// Device is awake again, retry the original command once.
			retry := s.bridge.Execute(ctx, s.handle.Addr, cmd)
			if retry.Kind == ResultSuccess || retry.Kind == ResultUnexpectedOutput {
				s.state = StateConnected
				s.handle.Connected = true
				s.handle.LastSeen = s.now()
				s.settle(cmd)
				return false, nil
			}
			s.audit.Logf("Command '%s' failed again after wakeup: %s", cmd.Name, retry)
		}
	}

	if err := s.reconnect(ctx, deadline); err != nil {
		return false, err
	}
	return true, nil
}

// tryWake sends the wakeup key to a device reported in standby and waits for
// it to leave standby. Returns false when the wake attempt itself fails,
// which sends the caller down the reconnect path.
func (s *Supervisor) tryWake(ctx context.Context, deadline time.Time) bool {
	s.audit.Logf("Device is in standby, sending wakeup")
	res := s.bridge.Execute(ctx, s.handle.Addr, KeyWakeup)
	if !res.OK() {
		s.audit.Logf("Wakeup failed: %s", res)
		return false
	}
	s.settle(KeyWakeup)
	if err := s.waitStandbyExit(ctx, deadline); err != nil {
		return false
	}
	return true
}

// waitStandbyExit polls power state until the device reports awake. Standby
// is a passive wait: the box was put to sleep deliberately and will come
// back on its own or via wakeup.
func (s *Supervisor) waitStandbyExit(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			s.state = StateAborted
			return ErrAborted
		}
		if !s.now().Before(deadline) {
			return ErrDeadlineExceeded
		}
		if ps := s.bridge.PowerState(ctx, s.handle.Addr); ps != PowerStandby {
			return nil
		}
		s.sleep(s.cfg.StandbyPoll)
	}
}

// reconnect loops until the device is back, the deadline passes, or the run
// is cancelled. Each successful connect replays device preparation and the
// initial sequence; a failure during replay sends us back into the loop.
func (s *Supervisor) reconnect(ctx context.Context, deadline time.Time) error {
	s.state = StateReconnecting
	s.audit.Logf("Connection lost, attempting to reconnect to %s", s.handle.Addr)
	s.rec.Reconnecting(s.handle.Addr)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			s.state = StateAborted
			return ErrAborted
		}
		if !s.now().Before(deadline) {
			s.state = StateAborted
			s.audit.Logf("Maximum execution time reached during reconnection")
			return ErrDeadlineExceeded
		}

		if attempt > 0 {
			s.sleep(s.cfg.RetryDelay)
		}
		attempt++

		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		_, err := s.bridge.Connect(connectCtx, s.handle.Addr)
		cancel()
		if err != nil {
			LogDebug("supervisor").Int("attempt", attempt).Err(err).Msg("reconnect attempt failed")
			continue
		}

		state, err := s.bridge.State(ctx, s.handle.Addr)
		if err != nil || state != "device" {
			LogDebug("supervisor").Int("attempt", attempt).Str("state", state).Msg("device not ready after connect")
			continue
		}

		// Connected again. Re-run preparation and the initial sequence so
		// the test finds the device at its expected starting screen.
		s.state = StateReinitializing
		s.audit.Logf("Reconnected to %s after %d attempt(s)", s.handle.Addr, attempt)
		s.sleep(s.cfg.PostConnectWait)

		if err := s.prep.Prepare(ctx, s.handle.Addr); err != nil {
			if errors.Is(err, ErrPrepareFailed) {
				s.rec.PrepareFailed(err.Error())
			} else if errors.Is(err, context.Canceled) {
				s.state = StateAborted
				return ErrAborted
			} else {
				continue
			}
		}

		if s.replayInitial(ctx) {
			s.state = StateConnected
			s.handle.Connected = true
			s.handle.LastSeen = s.now()
			s.reconnections++
			s.rec.Reconnected(s.handle.Addr, attempt)
			return nil
		}
		// Replay failed, the connection did not hold. Loop again.
		s.state = StateReconnecting
	}
}

// replayInitial runs the registered initial sequence. Returns false when a
// command fails in a recoverable way, meaning the session is gone again.
func (s *Supervisor) replayInitial(ctx context.Context) bool {
	for _, cmd := range s.initial {
		res := s.bridge.Execute(ctx, s.handle.Addr, cmd)
		if res.Recoverable() {
			s.audit.Logf("Initial sequence command '%s' failed during reinit: %s", cmd.Name, res)
			return false
		}
		s.settle(cmd)
	}
	return true
}

func (s *Supervisor) settle(cmd DeviceCommand) {
	if cmd.Settle > 0 {
		s.sleep(cmd.Settle)
	}
}
