package main

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CatalogWatcher reloads the custom tests file when it changes on disk, so
// operators can edit test definitions between runs without restarting.
type CatalogWatcher struct {
	catalog *Catalog
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex
}

func NewCatalogWatcher(catalog *Catalog, path string) *CatalogWatcher {
	return &CatalogWatcher{
		catalog: catalog,
		path:    path,
		stopCh:  make(chan struct{}),
	}
}

// Start begins watching the directory containing the custom tests file.
// Watching the directory instead of the file survives editors that replace
// the file on save.
func (w *CatalogWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	LogInfo("catalog_watcher").Str("path", w.path).Msg("Started watching custom tests file")

	go w.watch()
	return nil
}

func (w *CatalogWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
	}
}

func (w *CatalogWatcher) watch() {
	// Debounce: editors fire several events per save.
	var debounceTimer *time.Timer
	debounceDelay := 300 * time.Millisecond

	reload := func() {
		if err := w.catalog.LoadCustom(); err != nil {
			LogError("catalog_watcher").Err(err).Msg("Failed to reload custom tests")
			return
		}
		LogInfo("catalog_watcher").Msg("Custom tests reloaded")
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			LogError("catalog_watcher").Err(err).Msg("Watcher error")
		}
	}
}
