package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittopam/internal/logger"
)

// reloadDelay coalesces the burst of events an editor produces when saving.
var reloadDelay = 200 * time.Millisecond

// Watch reloads the file at path whenever it is written or replaced and
// passes the new configuration to onChange. Edits that fail to load are
// logged and skipped. Watching stops when ctx is cancelled.
//
// The parent directory is watched so that files replaced by rename keep
// being followed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending = time.After(reloadDelay)
				}

			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("Ignoring configuration change", "path", path, logger.Err(err))
					continue
				}
				logger.Info("Configuration reloaded", "path", path)
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", logger.Err(err))
			}
		}
	}()
	return nil
}
