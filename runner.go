package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ========================================
// TestRunner - repeats a test definition until the time budget expires
// ========================================

// Outcome is the terminal classification of a run.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeIncomplete
	OutcomeAbortedBySignal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeIncomplete:
		return "incomplete"
	case OutcomeAbortedBySignal:
		return "aborted"
	default:
		return "unknown"
	}
}

// ExitCode maps an outcome to the process exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeCompleted:
		return 0
	case OutcomeIncomplete:
		return 1
	case OutcomeAbortedBySignal:
		return 130
	default:
		return 1
	}
}

// TestSession identifies one run of one test on one device.
type TestSession struct {
	ID       string
	Test     string
	Start    time.Time
	Deadline time.Time
	Loop     int
}

// Runner drives a test definition in a loop through the supervisor. It owns
// the loop counter and the deadline; the supervisor owns the connection.
type Runner struct {
	sup   *Supervisor
	def   *TestDefinition
	audit *SessionLog
	rec   *RunRecorder

	session TestSession

	now func() time.Time
}

func NewRunner(sup *Supervisor, def *TestDefinition, audit *SessionLog, rec *RunRecorder) *Runner {
	return &Runner{
		sup:   sup,
		def:   def,
		audit: audit,
		rec:   rec,
		now:   time.Now,
	}
}

func (r *Runner) Session() TestSession { return r.session }

// Run executes the test until the budget expires. The loop counter survives
// reconnections: a loop interrupted by a dropped connection is restarted
// from its first command but the count of completed loops is never reset.
func (r *Runner) Run(ctx context.Context, budget time.Duration) (Outcome, error) {
	start := r.now()
	r.session = TestSession{
		ID:       uuid.New().String(),
		Test:     r.def.Name,
		Start:    start,
		Deadline: start.Add(budget),
	}

	r.audit.Logf("=== STARTING TEST: %s (budget %s) ===", r.def.Title, budget)
	r.rec.RunStarted(r.session)

	r.sup.SetInitialSequence(r.def.Initial)

	if err := r.sup.ConnectInitial(ctx); err != nil {
		r.audit.Logf("Initial connection failed: %v", err)
		return OutcomeIncomplete, err
	}

	needInitial := true
	outcome := OutcomeCompleted

runLoop:
	for r.now().Before(r.session.Deadline) {
		if ctx.Err() != nil {
			outcome = OutcomeAbortedBySignal
			break runLoop
		}

		if needInitial {
			done, out := r.runSequence(ctx, r.def.Initial)
			if done {
				outcome = out
				break runLoop
			}
			if out == outcomeRestart {
				// Supervisor already replayed the initial sequence during
				// reinit, go straight to the body.
				needInitial = false
				r.restartLogged()
				continue
			}
			needInitial = false
			r.audit.Logf("=== INITIAL SEQUENCE COMPLETED ===")
		}

		done, out := r.runSequence(ctx, r.def.Body)
		if done {
			outcome = out
			break runLoop
		}
		if out == outcomeRestart {
			r.restartLogged()
			continue
		}

		r.session.Loop++
		r.audit.Logf("LOOP %d CONCLUDED", r.session.Loop)
		r.rec.LoopCompleted(r.session.Loop)
	}

	return r.finish(outcome)
}

// outcomeRestart is an internal marker: the sequence was interrupted by a
// reconnection and must restart from its first command.
const outcomeRestart Outcome = -1

// outcomeClean marks a sequence that ran to its end.
const outcomeClean Outcome = -2

// runSequence sends each command through the supervisor. Returns
// (true, outcome) when the run must end, (false, outcomeRestart) when a
// reconnection interrupted the sequence, (false, outcomeClean) otherwise.
func (r *Runner) runSequence(ctx context.Context, cmds []DeviceCommand) (bool, Outcome) {
	for _, cmd := range cmds {
		if !r.now().Before(r.session.Deadline) {
			return true, OutcomeCompleted
		}
		reconnected, err := r.sup.CheckAndSend(ctx, cmd, r.session.Deadline)
		if err != nil {
			return true, r.classify(err)
		}
		if reconnected {
			return false, outcomeRestart
		}
	}
	return false, outcomeClean
}

func (r *Runner) restartLogged() {
	r.audit.Logf("RECONNECTION DETECTED - RESTARTING TEST FROM BEGINNING (loop count kept at %d)", r.session.Loop)
}

func (r *Runner) classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled):
		return OutcomeAbortedBySignal
	case errors.Is(err, ErrDeadlineExceeded):
		// Deadline hit while still connected (standby wait) counts as a
		// normal completion; only a deadline during recovery is incomplete.
		if r.sup.State() == StateConnected {
			return OutcomeCompleted
		}
		return OutcomeIncomplete
	default:
		return OutcomeIncomplete
	}
}

// finish writes the terminal log line, flushes it to disk and records the
// outcome. Every run ends with exactly one of these three lines.
func (r *Runner) finish(outcome Outcome) (Outcome, error) {
	elapsed := r.now().Sub(r.session.Start).Round(time.Second)

	switch outcome {
	case OutcomeCompleted:
		r.audit.Logf("TEST COMPLETED: %s ran %s (%d loops), deadline reached while connected",
			r.def.Name, elapsed, r.session.Loop)
	case OutcomeAbortedBySignal:
		r.audit.Logf("TEST ABORTED: operator signal received after %s (%d loops)",
			elapsed, r.session.Loop)
	case OutcomeIncomplete:
		r.audit.Logf("TEST INCOMPLETE: deadline reached during reconnection after %s (%d loops)",
			elapsed, r.session.Loop)
	}

	r.rec.RunFinished(r.session, outcome, r.sup.Reconnections())
	if err := r.audit.Sync(); err != nil {
		LogWarn("runner").Err(err).Msg("failed to sync session log")
	}
	return outcome, nil
}
