package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ========================================
// Device bridge - adb transport behind the CommandChannel contract
// ========================================

// deviceIDPattern validates device identifiers:
// - USB serials: alphanumeric, e.g. "1234567890ABCDEF", "emulator-5554"
// - wireless devices: ip:port, e.g. "192.168.1.100:5555"
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects identifiers that could smuggle shell metacharacters
// into an adb invocation.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceID) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// Bridge abstracts the debug-bridge transport so the recovery engine can be
// exercised against a fake. The classification contract (Success / Timeout /
// ConnectionError / UnexpectedOutput) must hold for any substituted transport.
type Bridge interface {
	Execute(ctx context.Context, deviceID string, cmd DeviceCommand) CommandResult
	Connect(ctx context.Context, addr string) (string, error)
	Disconnect(ctx context.Context, addr string) error
	State(ctx context.Context, deviceID string) (string, error)
	PowerState(ctx context.Context, deviceID string) PowerState
}

// Device is one row of `adb devices -l`.
type Device struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Model string `json:"model,omitempty"`
}

// adbBridge drives the external adb binary. A rate limiter caps invocation
// frequency so a wedged adb server is never hot-looped.
type adbBridge struct {
	adbPath string
	limiter *rate.Limiter
}

func newADBBridge() (*adbBridge, error) {
	path, err := exec.LookPath("adb")
	if err != nil {
		return nil, fmt.Errorf("adb not found in PATH: %w", err)
	}
	return &adbBridge{
		adbPath: path,
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}, nil
}

// command creates an exec.Cmd with a clean environment to avoid proxy issues.
func (b *adbBridge) command(ctx context.Context, args ...string) *exec.Cmd {
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, b.adbPath, args...)
	} else {
		cmd = exec.Command(b.adbPath, args...)
	}

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}

// connectionErrorMarkers are adb outputs that mean the device itself is gone,
// regardless of the process exit status.
var connectionErrorMarkers = []string{
	"device offline",
	"not found",
	"no devices/emulators found",
	"connection refused",
	"connection reset",
	"broken pipe",
	"failed to connect",
	"cannot connect",
	"closed",
}

// classifyExecResult maps a raw adb invocation outcome onto the CommandResult
// taxonomy. ctxErr carries the context state at completion so a
// kill-by-deadline is reported as Timeout rather than ConnectionError.
func classifyExecResult(output string, execErr, ctxErr error, expect string) CommandResult {
	out := strings.TrimSpace(output)
	lower := strings.ToLower(out)

	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return CommandResult{Kind: ResultTimeout, Output: out, Detail: "no response within timeout"}
	}

	for _, marker := range connectionErrorMarkers {
		if strings.Contains(lower, marker) {
			return CommandResult{Kind: ResultConnectionError, Output: out, Detail: marker}
		}
	}

	if execErr != nil {
		// Non-zero exit or broken pipe with no recognizable device output.
		return CommandResult{Kind: ResultConnectionError, Output: out, Detail: execErr.Error()}
	}

	if expect != "" && !strings.Contains(lower, strings.ToLower(expect)) {
		return CommandResult{
			Kind:   ResultUnexpectedOutput,
			Output: out,
			Detail: fmt.Sprintf("expected %q in response", expect),
		}
	}
	if strings.Contains(lower, "error:") || strings.Contains(lower, "exception") {
		return CommandResult{Kind: ResultUnexpectedOutput, Output: out, Detail: "device reported an error"}
	}

	return CommandResult{Kind: ResultSuccess, Output: out}
}

// Execute sends one command to the device and classifies the outcome. Never
// retries; retry policy belongs to the supervisor.
func (b *adbBridge) Execute(ctx context.Context, deviceID string, cmd DeviceCommand) CommandResult {
	if err := ValidateDeviceID(deviceID); err != nil {
		return CommandResult{Kind: ResultConnectionError, Detail: err.Error()}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = keySendTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.limiter.Wait(cctx); err != nil {
		return classifyExecResult("", err, cctx.Err(), cmd.Expect)
	}

	args := append([]string{"-s", deviceID}, cmd.Args...)
	output, err := b.command(cctx, args...).CombinedOutput()
	return classifyExecResult(string(output), err, cctx.Err(), cmd.Expect)
}

// Connect establishes an adb TCP connection. Any stale entry is dropped
// first; adb happily reports success against a half-dead registration
// otherwise.
func (b *adbBridge) Connect(ctx context.Context, addr string) (string, error) {
	if err := ValidateDeviceID(addr); err != nil {
		return "", err
	}
	_ = b.limiter.Wait(ctx)

	_ = b.command(ctx, "disconnect", addr).Run()

	output, err := b.command(ctx, "connect", addr).CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fmt.Errorf("connect failed: %w, output: %s", err, out)
	}
	if !strings.Contains(strings.ToLower(out), "connected") {
		return out, fmt.Errorf("connect refused: %s", out)
	}
	return out, nil
}

// Disconnect drops the adb TCP connection for addr.
func (b *adbBridge) Disconnect(ctx context.Context, addr string) error {
	if err := ValidateDeviceID(addr); err != nil {
		return err
	}
	output, err := b.command(ctx, "disconnect", addr).CombinedOutput()
	out := strings.ToLower(strings.TrimSpace(string(output)))
	if err != nil && !strings.Contains(out, "no such device") {
		return fmt.Errorf("disconnect failed: %w, output: %s", err, out)
	}
	return nil
}

// State returns the adb transport state ("device", "offline", ...).
func (b *adbBridge) State(ctx context.Context, deviceID string) (string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", err
	}
	_ = b.limiter.Wait(ctx)
	output, err := b.command(ctx, "-s", deviceID, "get-state").CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fmt.Errorf("get-state failed: %w, output: %s", err, out)
	}
	return out, nil
}

// PowerState probes `dumpsys power` to distinguish an intentionally sleeping
// STB from a lost connection.
func (b *adbBridge) PowerState(ctx context.Context, deviceID string) PowerState {
	cctx, cancel := context.WithTimeout(ctx, powerProbeTimeout)
	defer cancel()

	_ = b.limiter.Wait(cctx)
	output, err := b.command(cctx, "-s", deviceID, "shell", "dumpsys", "power").CombinedOutput()
	return classifyPowerState(string(output), err)
}

// ListDevices parses `adb devices -l` into a device table.
func (b *adbBridge) ListDevices(ctx context.Context) ([]Device, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	output, err := b.command(cctx, "devices", "-l").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run adb devices: %w, output: %s", err, string(output))
	}
	return parseDeviceList(string(output)), nil
}

func parseDeviceList(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		dev := Device{ID: parts[0], State: parts[1]}
		for _, p := range parts[2:] {
			if kv := strings.SplitN(p, ":", 2); len(kv) == 2 && kv[0] == "model" {
				dev.Model = strings.ReplaceAll(kv[1], "_", " ")
			}
		}
		devices = append(devices, dev)
	}
	return devices
}
