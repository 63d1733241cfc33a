package main

import "time"

// Android keyevent codes used by the STB test catalog.
const (
	KeycodeHome        = "3"
	KeycodeBack        = "4"
	KeycodeUp          = "19"
	KeycodeDown        = "20"
	KeycodeLeft        = "21"
	KeycodeRight       = "22"
	KeycodeOK          = "23"
	KeycodeVolumeUp    = "24"
	KeycodeVolumeDown  = "25"
	KeycodePower       = "26"
	KeycodeMute        = "164"
	KeycodeChannelUp   = "166"
	KeycodeChannelDown = "167"
	KeycodeLive        = "170"
	KeycodeGuide       = "172"
	KeycodeWakeup      = "224"
)

const keySendTimeout = 5 * time.Second

// Key builds a keyevent command. The settle delay gives the STB time to
// react before the next input; channel changes get the longest window
// because zapping can hold the tuner busy for many seconds.
func Key(code, name string, settle time.Duration) DeviceCommand {
	return DeviceCommand{
		Kind:    KindKey,
		Name:    name,
		Args:    []string{"shell", "input", "keyevent", code},
		Timeout: keySendTimeout,
		Settle:  settle,
	}
}

var (
	KeyHome        = Key(KeycodeHome, "KEY_HOME", 10*time.Second)
	KeyBack        = Key(KeycodeBack, "KEY_BACK", 10*time.Second)
	KeyUp          = Key(KeycodeUp, "KEY_UP", 5*time.Second)
	KeyDown        = Key(KeycodeDown, "KEY_DOWN", 5*time.Second)
	KeyLeft        = Key(KeycodeLeft, "KEY_LEFT", 5*time.Second)
	KeyRight       = Key(KeycodeRight, "KEY_RIGHT", 5*time.Second)
	KeyOK          = Key(KeycodeOK, "KEY_OK", 5*time.Second)
	KeyVolumeUp    = Key(KeycodeVolumeUp, "KEY_VOLUME_UP", 3*time.Second)
	KeyVolumeDown  = Key(KeycodeVolumeDown, "KEY_VOLUME_DOWN", 3*time.Second)
	KeyStandby     = Key(KeycodePower, "KEY_STANDBY", 10*time.Second)
	KeyMute        = Key(KeycodeMute, "KEY_MUTE", 5*time.Second)
	KeyChannelUp   = Key(KeycodeChannelUp, "KEY_CHANNEL_UP", 20*time.Second)
	KeyChannelDown = Key(KeycodeChannelDown, "KEY_CHANNEL_DOWN", 20*time.Second)
	KeyLive        = Key(KeycodeLive, "KEY_LIVE", 5*time.Second)
	KeyGuide       = Key(KeycodeGuide, "KEY_GUIDE", 5*time.Second)
	KeyWakeup      = Key(KeycodeWakeup, "KEY_WAKEUP", 20*time.Second)
)

// LaunchApp builds a monkey-based app launch. Store apps need ~30s to reach
// a stable UI on low-end STB hardware.
func LaunchApp(pkg, category, description string) DeviceCommand {
	return DeviceCommand{
		Kind:    KindLaunch,
		Name:    description,
		Args:    []string{"shell", "monkey", "-p", pkg, "-c", category, "1"},
		Timeout: keySendTimeout,
		Settle:  30 * time.Second,
	}
}

// StartActivity builds an am-start launch for the operator STB app.
func StartActivity(component, description string) DeviceCommand {
	return DeviceCommand{
		Kind: KindActivity,
		Name: description,
		Args: []string{
			"shell", "am", "start", "-n", component,
			"-a", "android.intent.action.MAIN",
			"-c", "android.intent.category.LEANBACK_LAUNCHER",
		},
		Timeout: keySendTimeout,
		Settle:  15 * time.Second,
	}
}
