package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
)

// ThresholdsWatcher monitors the thresholds file and notifies the evaluator
// when the per-kind limits change on disk.
type ThresholdsWatcher struct {
	path        string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	lastModTime time.Time
	mu          sync.RWMutex
	onReload    func(map[models.SensorKind]Thresholds)
}

// NewThresholdsWatcher creates a watcher for the given thresholds file.
func NewThresholdsWatcher(path string) (*ThresholdsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	tw := &ThresholdsWatcher{
		path:     path,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}
	if stat, err := os.Stat(path); err == nil {
		tw.lastModTime = stat.ModTime()
	}
	return tw, nil
}

// SetReloadCallback sets the function invoked with freshly parsed limits.
func (tw *ThresholdsWatcher) SetReloadCallback(cb func(map[models.SensorKind]Thresholds)) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.onReload = cb
}

// Start begins watching. Editors replace files rather than write in place,
// so the parent directory is watched and events are filtered by name.
func (tw *ThresholdsWatcher) Start() error {
	dir := filepath.Dir(tw.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := tw.watcher.Add(dir); err != nil {
		return err
	}

	go tw.watchLoop()
	log.Info().Str("file", tw.path).Msg("Watching thresholds file for changes")
	return nil
}

func (tw *ThresholdsWatcher) watchLoop() {
	// Debounce rapid write bursts from editors and atomic-save renames.
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(tw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, tw.reload)

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Thresholds watcher error")

		case <-tw.stopChan:
			return
		}
	}
}

func (tw *ThresholdsWatcher) reload() {
	stat, err := os.Stat(tw.path)
	if err != nil {
		log.Warn().Err(err).Str("file", tw.path).Msg("Thresholds file unreadable after change event")
		return
	}

	tw.mu.Lock()
	if !stat.ModTime().After(tw.lastModTime) {
		tw.mu.Unlock()
		return
	}
	tw.lastModTime = stat.ModTime()
	cb := tw.onReload
	tw.mu.Unlock()

	overrides, err := LoadThresholdsFile(tw.path)
	if err != nil {
		log.Error().Err(err).Str("file", tw.path).Msg("Failed to reload thresholds file")
		return
	}

	log.Info().Int("kinds", len(overrides)).Msg("Thresholds file changed, applying new limits")
	if cb != nil {
		cb(overrides)
	}
}

// Stop shuts the watcher down.
func (tw *ThresholdsWatcher) Stop() {
	close(tw.stopChan)
	if err := tw.watcher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close thresholds watcher")
	}
}
