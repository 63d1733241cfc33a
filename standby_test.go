package main

import (
	"errors"
	"testing"
)

// TestClassifyPowerState covers the dumpsys power probe interpretation
func TestClassifyPowerState(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   PowerState
	}{
		{
			name:   "awake device",
			output: "POWER MANAGER (dumpsys power)\n  mWakefulness=Awake\n  Display Power: state=ON",
			want:   PowerAwake,
		},
		{
			name:   "asleep device",
			output: "POWER MANAGER (dumpsys power)\n  mWakefulness=Asleep",
			want:   PowerStandby,
		},
		{
			name:   "dozing device",
			output: "  mWakefulness=Dozing\n  mWakefulnessChanging=false",
			want:   PowerStandby,
		},
		{
			name:   "display off",
			output: "Display Power: state=OFF",
			want:   PowerStandby,
		},
		{
			name: "probe failed",
			err:  errors.New("error: device offline"),
			want: PowerUnreachable,
		},
		{
			name:   "failed probe with stale output is still unreachable",
			output: "mWakefulness=Asleep",
			err:    errors.New("exit status 1"),
			want:   PowerUnreachable,
		},
		{
			name:   "empty output defaults to awake",
			output: "",
			want:   PowerAwake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPowerState(tt.output, tt.err); got != tt.want {
				t.Errorf("classifyPowerState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPowerStateString(t *testing.T) {
	if PowerStandby.String() != "standby" {
		t.Errorf("Unexpected string: %s", PowerStandby)
	}
}
