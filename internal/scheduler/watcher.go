package scheduler

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-sentinel/internal/config"
)

// ConfigWatcher reloads the config file when it changes on disk.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   *slog.Logger
	onChange func(*config.Config)
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewConfigWatcher watches path's directory, since editors often replace files
// instead of writing them in place.
func NewConfigWatcher(path string, logger *slog.Logger, onChange func(*config.Config)) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	return &ConfigWatcher{
		watcher:  watcher,
		path:     path,
		logger:   logger,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *ConfigWatcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher and waits for its loop to exit.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.doneCh)

	target := filepath.Base(w.path)
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			cfg, err := config.Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config",
					slog.String("path", w.path), slog.Any("error", err))
				continue
			}
			w.logger.Info("config reloaded", slog.String("path", w.path))
			if w.onChange != nil {
				w.onChange(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}
