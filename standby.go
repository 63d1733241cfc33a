package main

import (
	"strings"
	"time"
)

// ========================================
// StandbyMonitor - power state probing
// ========================================

const powerProbeTimeout = 5 * time.Second

// PowerState is the tri-state answer to "why is the device not responding".
// Standby is expected and recoverable with a wake key; Unreachable means the
// connection is gone and only a reconnect will help.
type PowerState int

const (
	PowerAwake PowerState = iota
	PowerStandby
	PowerUnreachable
)

func (s PowerState) String() string {
	switch s {
	case PowerAwake:
		return "awake"
	case PowerStandby:
		return "standby"
	case PowerUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// standbyMarkers in `dumpsys power` output indicate the STB put itself into
// low-power mode. Marker set varies across Android versions.
var standbyMarkers = []string{
	"mwakefulness=asleep",
	"mwakefulness=dozing",
	"display power: state=off",
}

// classifyPowerState maps a `dumpsys power` probe to a PowerState. A failed
// probe means the device did not answer at all, which is a connectivity
// problem, not standby.
func classifyPowerState(output string, err error) PowerState {
	if err != nil {
		return PowerUnreachable
	}
	lower := strings.ToLower(output)
	for _, marker := range standbyMarkers {
		if strings.Contains(lower, marker) {
			return PowerStandby
		}
	}
	return PowerAwake
}
