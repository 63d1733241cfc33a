package main

import (
	"fmt"
	"time"
)

// ========================================
// CommandChannel types - device commands and their classified outcomes
// ========================================

// CommandKind describes what a DeviceCommand does on the STB.
type CommandKind string

const (
	KindKey      CommandKind = "key"      // input keyevent
	KindLaunch   CommandKind = "launch"   // monkey -p <pkg> -c <category> 1
	KindActivity CommandKind = "activity" // am start -n <component>
	KindShell    CommandKind = "shell"    // arbitrary shell command (CEC methods, queries)
)

// DeviceCommand is one opaque operation against the debug bridge. The test
// catalog supplies these; the channel only executes and classifies them.
type DeviceCommand struct {
	Kind    CommandKind
	Name    string        // human-readable name for the audit log, e.g. "KEY_HOME"
	Args    []string      // adb arguments following "-s <device>"
	Expect  string        // substring the output must contain; empty accepts any output
	Timeout time.Duration // execution bound for this single send
	Settle  time.Duration // post-send delay before the next command may run
}

// ResultKind tags the outcome of a single command execution.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultTimeout
	ResultConnectionError
	ResultUnexpectedOutput
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultConnectionError:
		return "connection_error"
	case ResultUnexpectedOutput:
		return "unexpected_output"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// CommandResult is the immutable outcome of one command execution. Produced
// once per send; the caller decides retry vs. proceed. The channel itself
// never retries.
type CommandResult struct {
	Kind   ResultKind
	Output string
	Detail string
}

// OK reports whether the command completed as expected.
func (r CommandResult) OK() bool {
	return r.Kind == ResultSuccess
}

// Recoverable reports whether the result should trigger the reconnection
// protocol. Unexpected output is best-effort sent and deliberately excluded.
func (r CommandResult) Recoverable() bool {
	return r.Kind == ResultTimeout || r.Kind == ResultConnectionError
}

func (r CommandResult) String() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
	}
	return r.Kind.String()
}
