package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ========================================
// App - wiring for a single tool invocation
// ========================================

// runRetention bounds how long finished runs stay in the history database.
const runRetention = 90 * 24 * time.Hour

// App owns the long-lived pieces: the adb bridge, settings, the run store
// and the test catalog. One App serves one process, whether it runs a test
// or just lists history.
type App struct {
	bridge   *adbBridge
	settings Settings
	setPath  string
	store    *RunStore
	catalog  *Catalog
	watcher  *CatalogWatcher
	notifier *StatusNotifier
	dataDir  string
}

func NewApp() (*App, error) {
	bridge, err := newADBBridge()
	if err != nil {
		return nil, err
	}

	setPath := settingsPath()
	settings := LoadSettings(setPath)

	dataDir := filepath.Join(configDir(), "data")
	store, err := NewRunStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	if removed, err := store.CleanupOldRuns(runRetention); err != nil {
		LogWarn("app").Err(err).Msg("run history cleanup failed")
	} else if removed > 0 {
		LogInfo("app").Int("removed", removed).Msg("pruned old run history")
	}

	customPath := settings.CustomTestsPath
	if customPath == "" {
		customPath = filepath.Join(configDir(), "tests.json")
	}
	catalog := NewCatalog(customPath)
	if err := catalog.LoadCustom(); err != nil {
		LogWarn("app").Err(err).Msg("custom tests not loaded")
	}

	watcher := NewCatalogWatcher(catalog, customPath)
	if err := watcher.Start(); err != nil {
		LogWarn("app").Err(err).Msg("catalog watcher not started")
		watcher = nil
	}

	app := &App{
		bridge:   bridge,
		settings: settings,
		setPath:  setPath,
		store:    store,
		catalog:  catalog,
		watcher:  watcher,
		dataDir:  dataDir,
	}

	if settings.MQTT.Enabled {
		notifier, err := NewStatusNotifier(settings.MQTT)
		if err != nil {
			LogWarn("app").Err(err).Msg("status notifier unavailable, continuing without it")
		} else {
			app.notifier = notifier
		}
	}

	return app, nil
}

func (a *App) Catalog() *Catalog { return a.catalog }

func (a *App) Store() *RunStore { return a.store }

// ListDevices enumerates devices currently known to adb.
func (a *App) ListDevices(ctx context.Context) ([]Device, error) {
	return a.bridge.ListDevices(ctx)
}

// RunTest assembles a full run pipeline and drives it to completion.
// Returns the outcome alongside any terminal error; the outcome is valid
// even when err is non-nil.
func (a *App) RunTest(ctx context.Context, deviceAddr, testName string, budget time.Duration, logName string) (Outcome, error) {
	if err := ValidateDeviceID(deviceAddr); err != nil {
		return OutcomeIncomplete, err
	}
	def, err := a.catalog.Get(testName)
	if err != nil {
		return OutcomeIncomplete, err
	}
	if budget <= 0 {
		return OutcomeIncomplete, errors.New("duration must be positive")
	}

	logPath, err := SessionLogPath(a.settings.LogDir, logName, def.Name, time.Now())
	if err != nil {
		return OutcomeIncomplete, err
	}
	audit, err := NewSessionLog(logPath, os.Stdout)
	if err != nil {
		return OutcomeIncomplete, err
	}
	defer audit.Close()

	rec := NewRunRecorder(a.store, a.notifier, deviceAddr, def.Name)
	prep := NewPreconditioner(a.bridge, audit)
	sup := NewSupervisor(a.bridge, deviceAddr, prep, audit, rec, DefaultSupervisorConfig())
	runner := NewRunner(sup, def, audit, rec)

	a.settings.LastDevice = deviceAddr
	a.settings.LastTest = testName
	SaveSettings(a.setPath, a.settings)

	LogInfo("app").
		Str("device", deviceAddr).
		Str("test", def.Name).
		Dur("budget", budget).
		Str("log", logPath).
		Msg("starting run")

	return runner.Run(ctx, budget)
}

// Shutdown flushes and releases everything. Safe to call once.
func (a *App) Shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			LogWarn("app").Err(err).Msg("run store close failed")
		}
	}
	CloseLogger()
}
