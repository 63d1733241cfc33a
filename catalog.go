package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// ========================================
// Test Catalog - built-in and operator-defined test definitions
// ========================================

// TestDefinition is one endurance test: an initial sequence that brings the
// box to the test's starting screen, and a body that is looped until the
// time budget expires.
type TestDefinition struct {
	Name    string
	Title   string
	Initial []DeviceCommand
	Body    []DeviceCommand
}

func seq(cmds ...DeviceCommand) []DeviceCommand { return cmds }

func rep(n int, cmds ...DeviceCommand) []DeviceCommand {
	out := make([]DeviceCommand, 0, n*len(cmds))
	for i := 0; i < n; i++ {
		out = append(out, cmds...)
	}
	return out
}

func concat(seqs ...[]DeviceCommand) []DeviceCommand {
	var out []DeviceCommand
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

func builtinTests() map[string]*TestDefinition {
	liveTV := StartActivity(
		"ar.com.flow.androidtv_stb/ar.com.flow.androidtv.base.view.BaseActivity",
		"live TV app")

	tests := []*TestDefinition{
		{
			Name:    "zapping-standard",
			Title:   "Standard zapping",
			Initial: seq(KeyHome, KeyLive, liveTV),
			Body:    seq(KeyChannelUp, KeyChannelUp, KeyChannelDown, KeyChannelUp, KeyChannelDown),
		},
		{
			Name:    "zapping-guide",
			Title:   "Zapping through the guide",
			Initial: seq(KeyHome, KeyGuide, KeyOK, KeyBack),
			Body:    seq(KeyChannelUp, KeyChannelUp, KeyChannelDown, KeyChannelUp, KeyChannelDown),
		},
		{
			Name:    "navigation-1",
			Title:   "Menu navigation (horizontal)",
			Initial: seq(KeyHome),
			Body: concat(
				rep(5, KeyRight),
				rep(5, KeyLeft),
				seq(KeyOK, KeyBack)),
		},
		{
			Name:    "navigation-2",
			Title:   "Menu navigation (vertical)",
			Initial: seq(KeyHome),
			Body: concat(
				rep(4, KeyDown),
				rep(4, KeyUp),
				seq(KeyOK, KeyBack)),
		},
		{
			Name:    "navigation-3",
			Title:   "Menu navigation (mixed)",
			Initial: seq(KeyHome),
			Body: seq(KeyDown, KeyRight, KeyRight, KeyOK, KeyBack,
				LaunchApp("com.google.android.youtube.tv", "android.intent.category.LEANBACK_LAUNCHER", "YouTube"),
				KeyHome,
				KeyDown, KeyLeft, KeyOK, KeyBack, KeyUp, KeyUp),
		},
		{
			Name:    "apps",
			Title:   "Application launch cycle",
			Initial: seq(KeyHome),
			Body: seq(
				LaunchApp("com.netflix.ninja", "android.intent.category.LAUNCHER", "Netflix"),
				KeyHome,
				LaunchApp("com.amazon.amazonvideo.livingroom", "android.intent.category.LEANBACK_LAUNCHER", "Prime Video"),
				KeyHome,
				LaunchApp("com.google.android.youtube.tv", "android.intent.category.LEANBACK_LAUNCHER", "YouTube"),
				KeyHome,
				LaunchApp("com.disney.disneyplus", "android.intent.category.LEANBACK_LAUNCHER", "Disney+"),
				KeyHome,
				LaunchApp("com.spotify.tv.android", "android.intent.category.LEANBACK_LAUNCHER", "Spotify"),
				KeyHome,
				LaunchApp("com.wbd.stream", "android.intent.category.LEANBACK_LAUNCHER", "Max"),
				KeyHome,
			),
		},
		{
			Name:    "volume",
			Title:   "Volume stress",
			Initial: seq(KeyHome, KeyLive),
			Body: concat(
				rep(5, KeyVolumeUp),
				rep(5, KeyVolumeDown),
				seq(KeyMute, KeyMute),
				rep(3, KeyVolumeUp),
				rep(3, KeyVolumeDown),
				seq(KeyMute, KeyMute)),
		},
		{
			Name:    "standby-wakeup",
			Title:   "Standby / wakeup cycle",
			Initial: seq(KeyHome),
			Body:    seq(KeyStandby, KeyWakeup),
		},
	}

	m := make(map[string]*TestDefinition, len(tests))
	for _, t := range tests {
		m[t.Name] = t
	}
	return m
}

// Catalog holds the built-in tests plus any operator-defined tests loaded
// from a JSON file. Custom tests shadow built-ins with the same name.
type Catalog struct {
	mu      sync.RWMutex
	builtin map[string]*TestDefinition
	custom  map[string]*TestDefinition
	path    string
}

func NewCatalog(customPath string) *Catalog {
	return &Catalog{
		builtin: builtinTests(),
		custom:  make(map[string]*TestDefinition),
		path:    customPath,
	}
}

func (c *Catalog) Get(name string) (*TestDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.custom[name]; ok {
		return t, nil
	}
	if t, ok := c.builtin[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown test '%s'", name)
}

// List returns all test names, custom overrides included, sorted.
func (c *Catalog) List() []*TestDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byName := make(map[string]*TestDefinition, len(c.builtin)+len(c.custom))
	for n, t := range c.builtin {
		byName[n] = t
	}
	for n, t := range c.custom {
		byName[n] = t
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*TestDefinition, 0, len(names))
	for _, n := range names {
		out = append(out, byName[n])
	}
	return out
}

// LoadCustom (re)loads operator-defined tests from the configured JSON file.
// A missing file is not an error; a malformed one is.
func (c *Catalog) LoadCustom() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read custom tests: %w", err)
	}
	return c.loadCustomJSON(data)
}

func (c *Catalog) loadCustomJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("custom tests file is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	tests := root.Get("tests")
	if !tests.IsArray() {
		return fmt.Errorf("custom tests file must have a 'tests' array")
	}

	loaded := make(map[string]*TestDefinition)
	var loadErr error
	tests.ForEach(func(_, tv gjson.Result) bool {
		name := tv.Get("name").String()
		if name == "" {
			loadErr = fmt.Errorf("custom test without a name")
			return false
		}
		def := &TestDefinition{Name: name, Title: tv.Get("title").String()}
		if def.Title == "" {
			def.Title = name
		}
		if def.Initial, loadErr = parseCommands(name, tv.Get("initial")); loadErr != nil {
			return false
		}
		if def.Body, loadErr = parseCommands(name, tv.Get("body")); loadErr != nil {
			return false
		}
		if len(def.Body) == 0 {
			loadErr = fmt.Errorf("custom test '%s' has an empty body", name)
			return false
		}
		loaded[name] = def
		return true
	})
	if loadErr != nil {
		return loadErr
	}

	c.mu.Lock()
	c.custom = loaded
	c.mu.Unlock()
	LogInfo("catalog").Int("count", len(loaded)).Msg("custom tests loaded")
	return nil
}

// parseCommands maps JSON command entries onto the key and launch tables.
// Supported forms: {"key": "CHANNEL_UP"}, {"app": "...", "description": "..."},
// {"activity": "...", "description": "..."}. An optional "settle_seconds"
// overrides the default post-command delay.
func parseCommands(test string, arr gjson.Result) ([]DeviceCommand, error) {
	if !arr.Exists() {
		return nil, nil
	}
	if !arr.IsArray() {
		return nil, fmt.Errorf("custom test '%s': command list must be an array", test)
	}

	var cmds []DeviceCommand
	var parseErr error
	arr.ForEach(func(_, cv gjson.Result) bool {
		var cmd DeviceCommand
		switch {
		case cv.Get("key").Exists():
			keyName := cv.Get("key").String()
			k, ok := keyByName(keyName)
			if !ok {
				parseErr = fmt.Errorf("custom test '%s': unknown key '%s'", test, keyName)
				return false
			}
			cmd = k
		case cv.Get("app").Exists():
			category := cv.Get("category").String()
			if category == "" {
				category = "android.intent.category.LEANBACK_LAUNCHER"
			}
			cmd = LaunchApp(cv.Get("app").String(), category, cv.Get("description").String())
		case cv.Get("activity").Exists():
			cmd = StartActivity(cv.Get("activity").String(), cv.Get("description").String())
		default:
			parseErr = fmt.Errorf("custom test '%s': command needs 'key', 'app' or 'activity'", test)
			return false
		}
		if s := cv.Get("settle_seconds"); s.Exists() {
			cmd.Settle = time.Duration(s.Int()) * time.Second
		}
		cmds = append(cmds, cmd)
		return true
	})
	return cmds, parseErr
}

// keyByName resolves the operator-facing key names used in custom test files.
func keyByName(name string) (DeviceCommand, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "HOME":
		return KeyHome, true
	case "BACK":
		return KeyBack, true
	case "UP":
		return KeyUp, true
	case "DOWN":
		return KeyDown, true
	case "LEFT":
		return KeyLeft, true
	case "RIGHT":
		return KeyRight, true
	case "OK", "CENTER":
		return KeyOK, true
	case "VOLUME_UP":
		return KeyVolumeUp, true
	case "VOLUME_DOWN":
		return KeyVolumeDown, true
	case "STANDBY", "POWER":
		return KeyStandby, true
	case "MUTE":
		return KeyMute, true
	case "CHANNEL_UP":
		return KeyChannelUp, true
	case "CHANNEL_DOWN":
		return KeyChannelDown, true
	case "LIVE", "TV":
		return KeyLive, true
	case "GUIDE":
		return KeyGuide, true
	case "WAKEUP":
		return KeyWakeup, true
	default:
		return DeviceCommand{}, false
	}
}
