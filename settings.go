package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// ========================================
// Settings - persisted operator preferences
// ========================================

type Settings struct {
	LastDevice      string         `json:"lastDevice,omitempty"`
	LastTest        string         `json:"lastTest,omitempty"`
	LogDir          string         `json:"logDir,omitempty"`
	CustomTestsPath string         `json:"customTestsPath,omitempty"`
	MQTT            NotifierConfig `json:"mqtt"`
}

func DefaultSettings() Settings {
	return Settings{
		LogDir: "logs_stb",
		MQTT:   DefaultNotifierConfig(),
	}
}

// configDir returns the app's config directory, created on first use.
func configDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "stbtest")
	_ = os.MkdirAll(dir, 0755)
	return dir
}

func settingsPath() string {
	return filepath.Join(configDir(), "settings.json")
}

// LoadSettings reads persisted settings and applies environment overrides.
// A missing or unreadable file just yields the defaults.
func LoadSettings(path string) Settings {
	settings := DefaultSettings()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			LogWarn("settings").Err(err).Str("path", path).Msg("settings file unreadable, using defaults")
			settings = DefaultSettings()
		}
	}

	if settings.LogDir == "" {
		settings.LogDir = "logs_stb"
	}
	applyEnvOverrides(&settings)
	return settings
}

func SaveSettings(path string, settings Settings) {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		LogWarn("settings").Err(err).Str("path", path).Msg("failed to save settings")
	}
}

// applyEnvOverrides lets lab automation configure the broker without
// touching the settings file.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		s.MQTT.Broker = v
		s.MQTT.Enabled = true
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.MQTT.Port = port
		}
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		s.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		s.MQTT.Password = v
	}
}
