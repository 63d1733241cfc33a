package main

import (
	"context"
	"errors"
	"testing"
)

// TestClassifyExecResult covers the outcome taxonomy for raw adb results
func TestClassifyExecResult(t *testing.T) {
	execFailed := errors.New("exit status 1")

	tests := []struct {
		name    string
		output  string
		execErr error
		ctxErr  error
		expect  string
		want    ResultKind
	}{
		{
			name:   "clean output is success",
			output: "Events injected: 1",
			want:   ResultSuccess,
		},
		{
			name:   "empty output is success",
			output: "",
			want:   ResultSuccess,
		},
		{
			name:    "context deadline is timeout",
			output:  "",
			execErr: errors.New("signal: killed"),
			ctxErr:  context.DeadlineExceeded,
			want:    ResultTimeout,
		},
		{
			name:    "device offline is connection error",
			output:  "error: device offline",
			execErr: execFailed,
			want:    ResultConnectionError,
		},
		{
			name:   "device not found is connection error",
			output: "error: device '10.0.0.2:5555' not found",
			want:   ResultConnectionError,
		},
		{
			name:   "connection reset is connection error",
			output: "adb: connection reset by peer",
			want:   ResultConnectionError,
		},
		{
			name:    "exec failure without device output is connection error",
			output:  "",
			execErr: execFailed,
			want:    ResultConnectionError,
		},
		{
			name:   "missing expected substring is unexpected output",
			output: "Starting: Intent { cmp=... }",
			expect: "Events injected",
			want:   ResultUnexpectedOutput,
		},
		{
			name:   "expected substring match is success",
			output: "Events injected: 1",
			expect: "events injected",
			want:   ResultSuccess,
		},
		{
			name:   "error prefix is unexpected output",
			output: "Error: Activity class does not exist",
			want:   ResultUnexpectedOutput,
		},
		{
			name:   "exception in output is unexpected output",
			output: "java.lang.SecurityException: Permission Denial",
			want:   ResultUnexpectedOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyExecResult(tt.output, tt.execErr, tt.ctxErr, tt.expect)
			if got.Kind != tt.want {
				t.Errorf("classifyExecResult() = %v, want %v (detail: %s)", got.Kind, tt.want, got.Detail)
			}
		})
	}
}

// TestTimeoutWinsOverMarkers makes sure a deadline kill is never misread as
// a connection error even when the partial output contains a marker
func TestTimeoutWinsOverMarkers(t *testing.T) {
	got := classifyExecResult("error: closed", errors.New("signal: killed"), context.DeadlineExceeded, "")
	if got.Kind != ResultTimeout {
		t.Errorf("Expected timeout, got %v", got.Kind)
	}
}

func TestResultRecoverable(t *testing.T) {
	cases := map[ResultKind]bool{
		ResultSuccess:          false,
		ResultUnexpectedOutput: false,
		ResultTimeout:          true,
		ResultConnectionError:  true,
	}
	for kind, want := range cases {
		r := CommandResult{Kind: kind}
		if r.Recoverable() != want {
			t.Errorf("Recoverable(%v) = %v, want %v", kind, r.Recoverable(), want)
		}
	}
}

func TestResultKindString(t *testing.T) {
	if ResultTimeout.String() != "timeout" {
		t.Errorf("Unexpected string: %s", ResultTimeout)
	}
	if ResultKind(99).String() != "result(99)" {
		t.Errorf("Unexpected string for unknown kind: %s", ResultKind(99))
	}
}
