package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

const (
	minTimeBetweenReloads      = 500 * time.Millisecond
	delayBetweenEventAndReload = 50 * time.Millisecond
)

// Watch reloads the config file at path whenever it is written and passes
// every successfully loaded config to fn. Invalid edits are logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	logger := debug.Named("config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	logger.Debugw("Watching config file for changes", "path", abs)

	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Stopping config file watcher")
			return nil

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("Config watcher error", "error", err)

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Many editors write twice in a row.
			now := time.Now()
			if now.Sub(lastReload) < minTimeBetweenReloads {
				continue
			}
			lastReload = now

			logger.Debugw("Config file modified, attempting reload", "event", event)
			select {
			case <-time.After(delayBetweenEventAndReload):
			case <-ctx.Done():
				return nil
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warnw("Failed to reload config file", "error", err)
				continue
			}
			logger.Info("Reloaded config successfully")
			fn(cfg)
		}
	}
}
