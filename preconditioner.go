package main

import (
	"context"
	"errors"
	"time"
)

// ========================================
// Preconditioner - puts a freshly connected device into a known test state
// ========================================

// ErrPrepareFailed means no CEC disable method succeeded. Callers treat this
// as degraded rather than fatal: the run continues, but HDMI-CEC events from
// other devices on the bus may disturb the box under test.
var ErrPrepareFailed = errors.New("device preparation failed: no CEC disable method succeeded")

const cecCommandTimeout = 10 * time.Second

// CECMethod is one vendor-specific way of disabling HDMI-CEC. Android TV
// builds disagree about where the setting lives, so we carry every variant
// seen in the field and stop at the first one the device accepts.
type CECMethod struct {
	Name    string
	Command DeviceCommand
}

func cecShell(name string, args ...string) CECMethod {
	return CECMethod{
		Name: name,
		Command: DeviceCommand{
			Kind:    KindShell,
			Name:    name,
			Args:    args,
			Timeout: cecCommandTimeout,
		},
	}
}

// DefaultCECMethods returns the known CEC disable variants in preference
// order: the standard global setting first, vendor fallbacks after.
func DefaultCECMethods() []CECMethod {
	return []CECMethod{
		cecShell("settings-global-hdmi-control", "settings", "put", "global", "hdmi_control_enabled", "0"),
		cecShell("settings-global-hdmi-volume", "settings", "put", "global", "hdmi_volume_use_cec", "0"),
		cecShell("settings-secure-hdmi-control", "settings", "put", "secure", "hdmi_control_enabled", "0"),
		cecShell("settings-system-hdmi-control", "settings", "put", "system", "hdmi_control_enabled", "0"),
		cecShell("setprop-hdmi-device-type", "setprop", "ro.hdmi.device_type", "0"),
		cecShell("cmd-hdmi-control-setting", "cmd", "hdmi_control", "cec_setting", "--enabled", "false"),
		cecShell("settings-secure-hidden-inputs", "settings", "put", "secure", "tv_input_hidden_inputs", "1"),
	}
}

// Preconditioner applies device preparation after every (re)connection.
type Preconditioner struct {
	bridge  Bridge
	methods []CECMethod
	audit   *SessionLog
}

func NewPreconditioner(bridge Bridge, audit *SessionLog) *Preconditioner {
	return &Preconditioner{bridge: bridge, methods: DefaultCECMethods(), audit: audit}
}

// Prepare tries each CEC disable method in order and stops at the first
// success. Returns ErrPrepareFailed when every method fails; the caller logs
// and proceeds.
func (p *Preconditioner) Prepare(ctx context.Context, deviceID string) error {
	for _, m := range p.methods {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := p.bridge.Execute(ctx, deviceID, m.Command)
		if res.Kind == ResultSuccess {
			p.audit.Logf("CEC disabled via %s", m.Name)
			LogDebug("precondition").Str("method", m.Name).Msg("CEC disable succeeded")
			return nil
		}
		LogDebug("precondition").
			Str("method", m.Name).
			Str("result", res.Kind.String()).
			Msg("CEC disable method failed, trying next")
	}
	p.audit.Logf("WARNING: could not disable CEC on device, continuing anyway")
	LogWarn("precondition").Msg("all CEC disable methods failed")
	return ErrPrepareFailed
}
